package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupCache suppresses repeated RiskThresholdExceeded emissions for the
// same (rule, pid) pair within a sliding window, so a rule that keeps
// matching a long-lived process doesn't flood the bus and the incident
// manager with duplicate transitions. Grounded on SPEC_FULL.md §C.5;
// there is no direct analogue in original_source, which re-publishes on
// every match.
//
// A nil *DedupCache is not valid to call methods on; Engine treats a nil
// field as "dedup disabled" and skips it entirely.
type DedupCache struct {
	client *redis.Client
	window time.Duration
}

// NewDedupCache wraps an existing redis client. window is how long a
// (rule, pid) key suppresses repeat matches.
func NewDedupCache(client *redis.Client, window time.Duration) *DedupCache {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &DedupCache{client: client, window: window}
}

// Seen reports whether (ruleName, pid) has been observed within the
// current window, and if not, marks it seen. Uses SET NX so concurrent
// Engine goroutines racing on the same match still agree on a single
// winner. On a Redis error it logs nothing and returns false (fail open:
// a dedup outage must not suppress genuine detections).
func (c *DedupCache) Seen(ruleName string, pid int) bool {
	key := fmt.Sprintf("edr:rules:dedup:%s:%d", ruleName, pid)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ok, err := c.client.SetNX(ctx, key, 1, c.window).Result()
	if err != nil {
		return false
	}
	return !ok
}

// Close releases the underlying redis client.
func (c *DedupCache) Close() error {
	return c.client.Close()
}
