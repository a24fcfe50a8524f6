package adaptive

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Task is one unit of queued work: an opaque payload owned by a user.
// The evaluation queue's payload is a transaction ID; the dispatch
// queue's is a notification ID.
type Task struct {
	UserID  string
	Payload string
}

// FairQueue is a per-user FIFO backed by Redis lists, drained in
// round-robin order across users so one user's burst of transactions
// cannot starve another user's evaluation or dispatch (spec 4.7's
// per-user fairness requirement). depthLimit bounds the queue's total
// size; Push returns ErrRateLimited once the bound is reached, the
// backpressure signal the ingestion boundary surfaces as a 429.
type FairQueue struct {
	rdb        *redis.Client
	keyPrefix  string
	depthLimit int64

	mu     sync.Mutex
	cursor []string
}

// NewFairQueue builds a FairQueue namespaced by keyPrefix (so the
// evaluation and dispatch queues can share one Redis instance without
// colliding). depthLimit <= 0 means unbounded.
func NewFairQueue(rdb *redis.Client, keyPrefix string, depthLimit int64) *FairQueue {
	return &FairQueue{rdb: rdb, keyPrefix: keyPrefix, depthLimit: depthLimit}
}

func (q *FairQueue) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", q.keyPrefix, userID)
}

func (q *FairQueue) usersKey() string {
	return q.keyPrefix + ":users"
}

func (q *FairQueue) depthKey() string {
	return q.keyPrefix + ":depth"
}

// Push enqueues payload for userID.
func (q *FairQueue) Push(ctx context.Context, userID, payload string) error {
	if q.depthLimit > 0 {
		depth, err := q.Depth(ctx)
		if err != nil {
			return err
		}
		if depth >= q.depthLimit {
			return ErrRateLimited
		}
	}

	pipe := q.rdb.TxPipeline()
	pipe.RPush(ctx, q.userKey(userID), payload)
	pipe.SAdd(ctx, q.usersKey(), userID)
	pipe.Incr(ctx, q.depthKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue task for user %s: %w", userID, err)
	}
	return nil
}

// Pop removes and returns the next task in round-robin order across
// users with pending work. ok is false when every per-user queue is
// currently empty.
func (q *FairQueue) Pop(ctx context.Context) (task Task, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.cursor) == 0 {
		users, err := q.rdb.SMembers(ctx, q.usersKey()).Result()
		if err != nil {
			return Task{}, false, fmt.Errorf("failed to list queued users: %w", err)
		}
		if len(users) == 0 {
			return Task{}, false, nil
		}
		sort.Strings(users)
		q.cursor = users
	}

	for len(q.cursor) > 0 {
		userID := q.cursor[0]
		q.cursor = q.cursor[1:]

		payload, perr := q.rdb.LPop(ctx, q.userKey(userID)).Result()
		if perr == redis.Nil {
			q.rdb.SRem(ctx, q.usersKey(), userID)
			continue
		}
		if perr != nil {
			return Task{}, false, fmt.Errorf("failed to pop task for user %s: %w", userID, perr)
		}

		q.rdb.Decr(ctx, q.depthKey())

		if n, lerr := q.rdb.LLen(ctx, q.userKey(userID)).Result(); lerr == nil && n > 0 {
			q.cursor = append(q.cursor, userID)
		}

		return Task{UserID: userID, Payload: payload}, true, nil
	}

	return Task{}, false, nil
}

// Depth returns the queue's current total size.
func (q *FairQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.rdb.Get(ctx, q.depthKey()).Int64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return depth, nil
}
