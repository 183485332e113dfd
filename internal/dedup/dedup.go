package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard claims jobs before processing so a duplicate delivery of the same
// storage event is skipped instead of reprocessed. Claims expire so a
// crashed worker cannot strand a job forever.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

func claimKey(jobID string) string { return "claim:" + jobID }

// Claim returns true when this delivery won the job. A redis outage fails
// open: processing duplicates is safe (terminal writes are guarded at the
// store), dropping jobs is not.
func (g *Guard) Claim(ctx context.Context, jobID string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, claimKey(jobID), 1, g.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("claim %s: %w", jobID, err)
	}
	return ok, nil
}

// Release frees a claim after a transient failure so the retried delivery
// can take the job again.
func (g *Guard) Release(ctx context.Context, jobID string) {
	_ = g.rdb.Del(ctx, claimKey(jobID)).Err()
}
