package postgres

import (
	"context"
	"fmt"
	"time"
)

// Claim consumes fireAt for the named trigger unless the same or a later
// fire is already recorded.
func (s *Store) Claim(ctx context.Context, name string, fireAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO trigger_fires (trigger_name, fired_at) VALUES ($1, $2)
		 ON CONFLICT (trigger_name) DO UPDATE SET fired_at = EXCLUDED.fired_at
		 WHERE trigger_fires.fired_at < EXCLUDED.fired_at`,
		name, fireAt)
	if err != nil {
		return false, fmt.Errorf("claim trigger %s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}
