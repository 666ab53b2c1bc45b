package sqlite

import (
	"context"
	"time"
)

// Claim records fireAt as consumed for the named trigger. It reports false
// when the same or a later fire was already claimed, which keeps a restarted
// process from re-running a fire it already handled.
func (s *Store) Claim(ctx context.Context, name string, fireAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trigger_fires (trigger_name, fired_at_unix) VALUES (?, ?)
		 ON CONFLICT(trigger_name) DO UPDATE SET fired_at_unix = excluded.fired_at_unix
		 WHERE trigger_fires.fired_at_unix < excluded.fired_at_unix`,
		name, toUnix(fireAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
