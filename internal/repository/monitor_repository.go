package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/actionlog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// MonitorEvent is one action record as seen by a proctor watching an exam.
type MonitorEvent struct {
	UserID int              `json:"user_id"`
	Record actionlog.Record `json:"record"`
}

// MonitorRepository fans action records out over Redis Pub/Sub, one channel
// per exam.
type MonitorRepository struct {
	rdb *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{rdb: rdb}
}

// Publish sends one record to the exam's monitor channel.
func (r *MonitorRepository) Publish(ctx context.Context, examID string, userID int, rec actionlog.Record) error {
	payload, err := json.Marshal(MonitorEvent{UserID: userID, Record: rec})
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID), payload).Err(); err != nil {
		return fmt.Errorf("publish monitor event: %w", err)
	}
	return nil
}

// Subscribe attaches to the exam's monitor channel. The caller closes the
// returned PubSub.
func (r *MonitorRepository) Subscribe(ctx context.Context, examID string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID))
}

// Decode parses a message received on a monitor channel.
func (r *MonitorRepository) Decode(msg *redis.Message) (*MonitorEvent, error) {
	var ev MonitorEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		return nil, fmt.Errorf("decode monitor event: %w", err)
	}
	return &ev, nil
}
