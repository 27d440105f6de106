// Package ingest moves reading snapshots from Kafka into the live store and
// the reading log.
package ingest

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/database"
	"github.com/smukkama/egg-grader/internal/livestore"
	"github.com/smukkama/egg-grader/internal/protocol"
)

// ReadingStore persists devices and raw reading cycles.
type ReadingStore interface {
	UpsertDevice(ctx context.Context, deviceID string, slots int) error
	InsertReadingLogs(ctx context.Context, logs []*database.ReadingLog) error
}

// SnapshotStore keeps the latest snapshot per device.
type SnapshotStore interface {
	Save(ctx context.Context, snap *livestore.Snapshot) (bool, error)
}

// Writer handles batches of reading snapshots. Live snapshots are written
// first because saving them again on redelivery is harmless.
type Writer struct {
	readings ReadingStore
	live     SnapshotStore
	log      *zap.Logger
}

// NewWriter creates a batch handler for the readings topic.
func NewWriter(readings ReadingStore, live SnapshotStore, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{readings: readings, live: live, log: log}
}

// HandleBatch returns the messages that may be committed. On a storage
// failure nothing is returned so the whole batch is redelivered.
func (w *Writer) HandleBatch(ctx context.Context, batch []kafka.Message) []kafka.Message {
	var snapshots []*protocol.ReadingSnapshot
	for _, msg := range batch {
		snap, err := protocol.DecodeReadingSnapshot(msg.Value)
		if err != nil || snap.DeviceID == "" {
			w.log.Warn("skipping undecodable snapshot",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}
		snapshots = append(snapshots, snap)
	}

	updated := 0
	for _, snap := range snapshots {
		ok, err := w.live.Save(ctx, &livestore.Snapshot{
			DeviceID:   snap.DeviceID,
			Timestamp:  snap.Timestamp,
			ReceivedAt: snap.ReceivedAt,
			Weights:    snap.Weights,
		})
		if err != nil {
			w.log.Error("failed to save live snapshot", zap.String("device_id", snap.DeviceID), zap.Error(err))
			return nil
		}
		if ok {
			updated++
		}
	}

	slots := make(map[string]int)
	logs := make([]*database.ReadingLog, 0, len(snapshots))
	for _, snap := range snapshots {
		slots[snap.DeviceID] = len(snap.Weights)
		logs = append(logs, &database.ReadingLog{
			DeviceID:   snap.DeviceID,
			Timestamp:  snap.Timestamp,
			Weights:    snap.Weights,
			ReceivedAt: snap.ReceivedAt,
		})
	}

	for deviceID, n := range slots {
		if err := w.readings.UpsertDevice(ctx, deviceID, n); err != nil {
			w.log.Error("failed to upsert device", zap.String("device_id", deviceID), zap.Error(err))
			return nil
		}
	}

	if len(logs) > 0 {
		if err := w.readings.InsertReadingLogs(ctx, logs); err != nil {
			w.log.Error("failed to insert reading logs", zap.Int("count", len(logs)), zap.Error(err))
			return nil
		}
	}

	w.log.Debug("flushed reading batch",
		zap.Int("messages", len(batch)),
		zap.Int("stored", len(logs)),
		zap.Int("live_updates", updated))
	return batch
}
