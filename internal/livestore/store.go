// Package livestore keeps the latest load-cell snapshot of every device in
// Redis and fans updates out over pub/sub.
package livestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/egg-grader/internal/grading"
)

// UpdatesChannel carries every saved snapshot as JSON.
const UpdatesChannel = "live:updates"

const (
	snapshotPrefix   = "live:"
	notificationsKey = "settings:notifications_enabled"
	snapshotTTL      = 7 * 24 * time.Hour
	maxWatchRetries  = 5
)

// ErrNoSnapshot is returned when a device has never reported.
var ErrNoSnapshot = errors.New("no live snapshot for device")

// Snapshot is the latest reading of every load cell on one device.
type Snapshot struct {
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Weights    []float64 `json:"weights"`
}

// ClearErrors zeroes every overweight slot and returns how many were reset.
func (s *Snapshot) ClearErrors() int {
	cleared := 0
	for i, w := range s.Weights {
		if grading.Classify(w).IsError() {
			s.Weights[i] = 0
			cleared++
		}
	}
	return cleared
}

// Store is the Redis-backed live store
type Store struct {
	redis *redis.Client
}

// NewStore creates a new live store
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func snapshotKey(deviceID string) string {
	return snapshotPrefix + deviceID
}

// Get returns the latest snapshot for a device
func (s *Store) Get(ctx context.Context, deviceID string) (*Snapshot, error) {
	data, err := s.redis.Get(ctx, snapshotKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}
	return decodeSnapshot(data)
}

// Save replaces the device's snapshot and publishes it on UpdatesChannel.
// Snapshots received before the stored one are ignored. Ordering uses the
// server receive time since device clocks may jump.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (bool, error) {
	key := snapshotKey(snap.DeviceID)
	var stored bool

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			prev, err := decodeSnapshot(current)
			if err == nil && prev.ReceivedAt.After(snap.ReceivedAt) {
				stored = false
				return nil
			}
		}

		snap.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, snapshotTTL)
			pipe.Publish(ctx, UpdatesChannel, data)
			return nil
		})
		stored = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return stored, nil
}

// ClearErrors zeroes every overweight slot of the device's snapshot and
// publishes the result.
func (s *Store) ClearErrors(ctx context.Context, deviceID string) (*Snapshot, int, error) {
	key := snapshotKey(deviceID)

	var snap *Snapshot
	var cleared int
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNoSnapshot
		}
		if err != nil {
			return err
		}

		snap, err = decodeSnapshot(data)
		if err != nil {
			return err
		}
		cleared = snap.ClearErrors()
		if cleared == 0 {
			return nil
		}

		snap.UpdatedAt = time.Now().UTC()
		updated, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, snapshotTTL)
			pipe.Publish(ctx, UpdatesChannel, updated)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, key, txf); err != nil {
		return nil, 0, err
	}
	return snap, cleared, nil
}

// watch runs fn in an optimistic transaction on key, retrying when another
// writer touched the key first.
func (s *Store) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too much contention", key)
}

// NotificationsEnabled reports the global notifications setting. It defaults
// to enabled when never set.
func (s *Store) NotificationsEnabled(ctx context.Context) (bool, error) {
	val, err := s.redis.Get(ctx, notificationsKey).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read notifications setting: %w", err)
	}
	enabled, err := strconv.ParseBool(val)
	if err != nil {
		return true, nil
	}
	return enabled, nil
}

// SetNotificationsEnabled stores the global notifications setting
func (s *Store) SetNotificationsEnabled(ctx context.Context, enabled bool) error {
	return s.redis.Set(ctx, notificationsKey, strconv.FormatBool(enabled), 0).Err()
}

// Subscribe streams every published snapshot until ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context) (<-chan *Snapshot, error) {
	pubsub := s.redis.Subscribe(ctx, UpdatesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", UpdatesChannel, err)
	}

	out := make(chan *Snapshot, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				snap, err := decodeSnapshot([]byte(msg.Payload))
				if err != nil {
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
