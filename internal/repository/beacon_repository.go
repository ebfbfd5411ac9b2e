package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// QueuedBeacon is a beacon job waiting for the worker, with the number of
// delivery attempts already spent on it.
type QueuedBeacon struct {
	Job      proctor.BeaconJob `json:"job"`
	Attempts int               `json:"attempts"`
}

// BeaconRepository is the Redis list holding unload submissions.
type BeaconRepository struct {
	rdb *redis.Client
}

// NewBeaconRepository creates a new BeaconRepository.
func NewBeaconRepository(rdb *redis.Client) *BeaconRepository {
	return &BeaconRepository{rdb: rdb}
}

// Push appends a job to the tail of the queue.
func (r *BeaconRepository) Push(ctx context.Context, q QueuedBeacon) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return err
	}
	if err := r.rdb.RPush(ctx, config.WorkerKey.UnloadSubmitQueue, payload).Err(); err != nil {
		return fmt.Errorf("push beacon: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next job. It returns (nil, nil) when the
// queue stayed empty.
func (r *BeaconRepository) Pop(ctx context.Context, timeout time.Duration) (*QueuedBeacon, error) {
	result, err := r.rdb.BLPop(ctx, timeout, config.WorkerKey.UnloadSubmitQueue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop beacon: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}
	return decodeBeacon(result[1])
}

// TryPop takes the next job without blocking.
func (r *BeaconRepository) TryPop(ctx context.Context) (*QueuedBeacon, error) {
	result, err := r.rdb.LPop(ctx, config.WorkerKey.UnloadSubmitQueue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop beacon: %w", err)
	}
	return decodeBeacon(result)
}

// Len reports the queue length.
func (r *BeaconRepository) Len(ctx context.Context) (int64, error) {
	return r.rdb.LLen(ctx, config.WorkerKey.UnloadSubmitQueue).Result()
}

func decodeBeacon(raw string) (*QueuedBeacon, error) {
	var q QueuedBeacon
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil, fmt.Errorf("decode beacon: %w", err)
	}
	return &q, nil
}
