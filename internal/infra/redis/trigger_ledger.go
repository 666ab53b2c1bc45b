package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript stores ARGV[1] under KEYS[1] only when it is newer than the
// stored value, so concurrent schedulers agree on a single winner per fire.
var claimScript = redis.NewScript(`
local last = redis.call("GET", KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// TriggerLedger records consumed trigger fire times in Redis. It lets several
// bot instances share one schedule without double-firing.
type TriggerLedger struct {
	client *redis.Client
	prefix string
}

func NewTriggerLedger(client *redis.Client, prefix string) *TriggerLedger {
	if prefix == "" {
		prefix = "quizbot"
	}
	return &TriggerLedger{client: client, prefix: prefix}
}

func (l *TriggerLedger) Claim(ctx context.Context, name string, fireAt time.Time) (bool, error) {
	n, err := claimScript.Run(ctx, l.client, []string{l.key(name)}, fireAt.Unix()).Int()
	if err != nil {
		return false, fmt.Errorf("claim trigger %s: %w", name, err)
	}
	return n == 1, nil
}

func (l *TriggerLedger) key(name string) string {
	return l.prefix + ":trigger:" + name
}
