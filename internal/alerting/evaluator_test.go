package alerting

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smukkama/egg-grader/internal/database"
	"github.com/smukkama/egg-grader/internal/grading"
	"github.com/smukkama/egg-grader/internal/protocol"
)

type fakeSettings struct {
	enabled bool
	err     error
}

func (f *fakeSettings) NotificationsEnabled(ctx context.Context) (bool, error) {
	return f.enabled, f.err
}

// memoryCooldown mimics the Redis cooldown with an injectable clock.
type memoryCooldown struct {
	window time.Duration
	now    time.Time
	until  map[string]time.Time
}

func newMemoryCooldown(window time.Duration) *memoryCooldown {
	return &memoryCooldown{window: window, now: time.Unix(0, 0), until: map[string]time.Time{}}
}

func (c *memoryCooldown) Acquire(ctx context.Context, deviceID string, slot int) (bool, error) {
	key := fmt.Sprintf("%s:%d", deviceID, slot)
	if until, ok := c.until[key]; ok && c.now.Before(until) {
		return false, nil
	}
	c.until[key] = c.now.Add(c.window)
	return true, nil
}

func (c *memoryCooldown) Release(ctx context.Context, deviceID string, slot int) error {
	delete(c.until, fmt.Sprintf("%s:%d", deviceID, slot))
	return nil
}

type fakeStore struct {
	stored []*database.Notification
	err    error
}

func (s *fakeStore) InsertNotification(ctx context.Context, n *database.Notification) error {
	if s.err != nil {
		return s.err
	}
	for _, existing := range s.stored {
		if existing.ID == n.ID {
			return nil
		}
	}
	s.stored = append(s.stored, n)
	return nil
}

type fakePublisher struct {
	keys   []string
	values [][]byte
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func newTestEvaluator(enabled bool) (*Evaluator, *memoryCooldown, *fakeStore, *fakePublisher) {
	cooldown := newMemoryCooldown(5 * time.Minute)
	store := &fakeStore{}
	pub := &fakePublisher{}
	e := NewEvaluator(&fakeSettings{enabled: enabled}, cooldown, store, pub, nil)
	seq := 0
	e.newID = func(*protocol.ReadingSnapshot, int) string {
		seq++
		return fmt.Sprintf("n%d", seq)
	}
	e.now = func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }
	return e, cooldown, store, pub
}

func snapshot(weights ...float64) *protocol.ReadingSnapshot {
	return &protocol.ReadingSnapshot{DeviceID: "grader-01", Weights: weights}
}

func TestAlertFor(t *testing.T) {
	alert, ok := AlertFor(2, 42.34)
	if !ok {
		t.Fatal("Expected Peewee to raise an alert")
	}
	if alert.Title != "Load Cell 3 Warning" || alert.Status != grading.StatusModerate || alert.Kind != protocol.KindWarning {
		t.Errorf("Unexpected Peewee alert: %+v", alert)
	}
	if alert.Description != "Peewee egg detected: 42.3g (below standard size)" {
		t.Errorf("Unexpected description: %s", alert.Description)
	}

	alert, ok = AlertFor(15, 612)
	if !ok {
		t.Fatal("Expected overweight to raise an alert")
	}
	if alert.Title != "Load Cell 16 Alert" || alert.Status != grading.StatusCritical || alert.Kind != protocol.KindError {
		t.Errorf("Unexpected overweight alert: %+v", alert)
	}
	if alert.Description != "Overweight egg detected: 612.0g (exceeds 500g limit)!" {
		t.Errorf("Unexpected description: %s", alert.Description)
	}

	for _, w := range []float64{0, 4.9, 50, 60, 499.9} {
		if _, ok := AlertFor(0, w); ok {
			t.Errorf("Weight %v should not raise an alert", w)
		}
	}
}

func TestEvaluate_RaisesAndPublishes(t *testing.T) {
	e, _, store, pub := newTestEvaluator(true)

	raised, err := e.Evaluate(context.Background(), snapshot(0, 30, 55, 700))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(raised) != 2 || len(store.stored) != 2 {
		t.Fatalf("Expected 2 notifications, got %d raised / %d stored", len(raised), len(store.stored))
	}
	if raised[0].Slot != 1 || raised[1].Slot != 3 {
		t.Errorf("Unexpected slots: %d, %d", raised[0].Slot, raised[1].Slot)
	}

	if len(pub.keys) != 2 || pub.keys[0] != "grader-01-1" || pub.keys[1] != "grader-01-3" {
		t.Fatalf("Unexpected publish keys: %v", pub.keys)
	}
	req, err := protocol.DecodeNotificationRequest(pub.values[1])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if req.ID != "n2" || req.Severity != grading.StatusCritical || req.Weight != 700 {
		t.Errorf("Unexpected request: %+v", req)
	}
}

func TestEvaluate_Cooldown(t *testing.T) {
	e, cooldown, store, _ := newTestEvaluator(true)
	ctx := context.Background()

	e.Evaluate(ctx, snapshot(30))
	cooldown.now = cooldown.now.Add(4 * time.Minute)
	e.Evaluate(ctx, snapshot(30, 600))

	if len(store.stored) != 2 {
		t.Fatalf("Expected slot 0 to be suppressed, got %d notifications", len(store.stored))
	}
	if store.stored[1].Slot != 1 {
		t.Errorf("Expected second notification for slot 1, got %d", store.stored[1].Slot)
	}

	cooldown.now = cooldown.now.Add(2 * time.Minute)
	e.Evaluate(ctx, snapshot(30))
	if len(store.stored) != 3 {
		t.Errorf("Expected slot 0 to notify after the window, got %d notifications", len(store.stored))
	}
}

func TestEvaluate_Disabled(t *testing.T) {
	e, cooldown, store, pub := newTestEvaluator(false)

	raised, err := e.Evaluate(context.Background(), snapshot(30, 600))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(raised) != 0 || len(store.stored) != 0 || len(pub.keys) != 0 {
		t.Error("Expected nothing raised while disabled")
	}
	if len(cooldown.until) != 0 {
		t.Error("Cooldown must not be consumed while disabled")
	}
}

func TestEvaluate_StoreError(t *testing.T) {
	e, cooldown, store, pub := newTestEvaluator(true)
	store.err = errors.New("db down")

	if _, err := e.Evaluate(context.Background(), snapshot(600)); err == nil {
		t.Fatal("Expected error when storing fails")
	}
	if len(pub.keys) != 0 {
		t.Error("Nothing should be published when storing fails")
	}
	if len(cooldown.until) != 0 {
		t.Error("Cooldown should be released when storing fails")
	}

	store.err = nil
	if raised, _ := e.Evaluate(context.Background(), snapshot(600)); len(raised) != 1 {
		t.Errorf("Expected the redelivered snapshot to notify, got %d", len(raised))
	}
}

func TestEvaluate_PublishErrorRetriesOnRedelivery(t *testing.T) {
	e, cooldown, store, pub := newTestEvaluator(true)
	e.newID = NotificationID
	pub.err = errors.New("broker unavailable")

	snap := snapshot(600)
	snap.ReceivedAt = time.Date(2026, 3, 15, 9, 59, 59, 0, time.UTC)

	if _, err := e.Evaluate(context.Background(), snap); err == nil {
		t.Fatal("Expected error when publishing fails")
	}
	if len(store.stored) != 1 {
		t.Fatalf("Expected the notification to be stored, got %d", len(store.stored))
	}
	if len(cooldown.until) != 0 {
		t.Error("Cooldown should be released when publishing fails")
	}

	pub.err = nil
	raised, err := e.Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(raised) != 1 || len(pub.keys) != 1 {
		t.Fatalf("Expected the redelivery to publish once, got %d raised / %d published", len(raised), len(pub.keys))
	}
	if len(store.stored) != 1 || raised[0].ID != store.stored[0].ID {
		t.Errorf("Redelivery should reuse the stored notification, got %d stored", len(store.stored))
	}
}

func TestNotificationID(t *testing.T) {
	snap := snapshot(600)
	snap.ReceivedAt = time.Date(2026, 3, 15, 9, 59, 59, 0, time.UTC)

	if NotificationID(snap, 0) != NotificationID(snap, 0) {
		t.Error("Same snapshot and slot should give the same ID")
	}
	if NotificationID(snap, 0) == NotificationID(snap, 1) {
		t.Error("Slots should give different IDs")
	}
	later := *snap
	later.ReceivedAt = snap.ReceivedAt.Add(time.Millisecond)
	if NotificationID(snap, 0) == NotificationID(&later, 0) {
		t.Error("Snapshots should give different IDs")
	}
}
