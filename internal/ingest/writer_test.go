package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/egg-grader/internal/database"
	"github.com/smukkama/egg-grader/internal/livestore"
	"github.com/smukkama/egg-grader/internal/protocol"
)

type fakeReadings struct {
	devices map[string]int
	logs    []*database.ReadingLog
	err     error
}

func (f *fakeReadings) UpsertDevice(ctx context.Context, deviceID string, slots int) error {
	if f.devices == nil {
		f.devices = map[string]int{}
	}
	f.devices[deviceID] = slots
	return nil
}

func (f *fakeReadings) InsertReadingLogs(ctx context.Context, logs []*database.ReadingLog) error {
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, logs...)
	return nil
}

type fakeLive struct {
	latest map[string]*livestore.Snapshot
}

func (f *fakeLive) Save(ctx context.Context, snap *livestore.Snapshot) (bool, error) {
	if f.latest == nil {
		f.latest = map[string]*livestore.Snapshot{}
	}
	if cur, ok := f.latest[snap.DeviceID]; ok && snap.Timestamp.Before(cur.Timestamp) {
		return false, nil
	}
	f.latest[snap.DeviceID] = snap
	return true, nil
}

func message(t *testing.T, offset int64, snap *protocol.ReadingSnapshot) kafka.Message {
	t.Helper()
	data, err := protocol.EncodeReadingSnapshot(snap)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return kafka.Message{Offset: offset, Key: []byte(snap.DeviceID), Value: data}
}

func TestWriter_HandleBatch(t *testing.T) {
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	readings := &fakeReadings{}
	live := &fakeLive{}
	w := NewWriter(readings, live, nil)

	batch := []kafka.Message{
		message(t, 0, &protocol.ReadingSnapshot{DeviceID: "grader-01", Timestamp: base.Add(time.Second), Weights: []float64{55, 0}}),
		{Offset: 1, Value: []byte("{broken")},
		message(t, 2, &protocol.ReadingSnapshot{DeviceID: "grader-01", Timestamp: base, Weights: []float64{30, 0}}),
		message(t, 3, &protocol.ReadingSnapshot{DeviceID: "grader-02", Timestamp: base, Weights: []float64{600}}),
	}

	handled := w.HandleBatch(context.Background(), batch)
	if len(handled) != 4 {
		t.Fatalf("Expected every message to be committable, got %d", len(handled))
	}
	if len(readings.logs) != 3 {
		t.Errorf("Expected 3 reading logs, got %d", len(readings.logs))
	}
	if readings.devices["grader-01"] != 2 || readings.devices["grader-02"] != 1 {
		t.Errorf("Unexpected devices: %v", readings.devices)
	}
	if got := live.latest["grader-01"].Weights[0]; got != 55 {
		t.Errorf("Older snapshot replaced the live view, weight %v", got)
	}
}

func TestWriter_StorageFailure(t *testing.T) {
	readings := &fakeReadings{err: errors.New("db down")}
	w := NewWriter(readings, &fakeLive{}, nil)

	batch := []kafka.Message{
		message(t, 0, &protocol.ReadingSnapshot{DeviceID: "grader-01", Weights: []float64{55}}),
	}
	if handled := w.HandleBatch(context.Background(), batch); len(handled) != 0 {
		t.Errorf("Expected nothing committable on failure, got %d", len(handled))
	}
}
