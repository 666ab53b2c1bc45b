package memory

import (
	"context"
	"sync"
	"time"
)

// TriggerLedger records the last consumed fire time per trigger in memory.
type TriggerLedger struct {
	mu    sync.Mutex
	fired map[string]time.Time
}

func NewTriggerLedger() *TriggerLedger {
	return &TriggerLedger{fired: make(map[string]time.Time)}
}

// Claim consumes fireAt for name unless an equal or later fire was already claimed.
func (l *TriggerLedger) Claim(_ context.Context, name string, fireAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.fired[name]; ok && !last.Before(fireAt) {
		return false, nil
	}
	l.fired[name] = fireAt
	return true, nil
}
