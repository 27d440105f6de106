package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/database"
	"github.com/smukkama/egg-grader/internal/grading"
	"github.com/smukkama/egg-grader/internal/protocol"
	"github.com/smukkama/egg-grader/internal/queue"
)

// Settings exposes the global notifications switch.
type Settings interface {
	NotificationsEnabled(ctx context.Context) (bool, error)
}

// NotificationStore persists notifications for the API.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *database.Notification) error
}

// Alert is the notification content for one load cell.
type Alert struct {
	Kind        protocol.NotificationKind
	Status      grading.Status
	Title       string
	Description string
}

// AlertFor returns the alert a reading should raise. Only Peewee eggs
// (warning) and overweight readings (error) raise one. slot is zero-based;
// titles use one-based load cell numbers.
func AlertFor(slot int, weight float64) (Alert, bool) {
	c := grading.Classify(weight)
	switch {
	case c.IsWarning():
		return Alert{
			Kind:        protocol.KindWarning,
			Status:      grading.StatusModerate,
			Title:       fmt.Sprintf("Load Cell %d Warning", slot+1),
			Description: fmt.Sprintf("Peewee egg detected: %.1fg (below standard size)", weight),
		}, true
	case c.IsError():
		return Alert{
			Kind:        protocol.KindError,
			Status:      grading.StatusCritical,
			Title:       fmt.Sprintf("Load Cell %d Alert", slot+1),
			Description: fmt.Sprintf("Overweight egg detected: %.1fg (exceeds 500g limit)!", weight),
		}, true
	default:
		return Alert{}, false
	}
}

// Evaluator turns reading snapshots into rate-limited notifications
type Evaluator struct {
	settings  Settings
	cooldown  Cooldown
	store     NotificationStore
	publisher queue.Publisher
	log       *zap.Logger
	now       func() time.Time
	newID     func(snap *protocol.ReadingSnapshot, slot int) string
}

// NewEvaluator creates a new alert evaluator
func NewEvaluator(settings Settings, cooldown Cooldown, store NotificationStore, publisher queue.Publisher, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		settings:  settings,
		cooldown:  cooldown,
		store:     store,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     NotificationID,
	}
}

// Evaluate checks every slot of a snapshot and raises the notifications that
// are due. Nothing is raised while notifications are disabled, and the
// cooldown is not consumed either.
func (e *Evaluator) Evaluate(ctx context.Context, snap *protocol.ReadingSnapshot) ([]*database.Notification, error) {
	enabled, err := e.settings.NotificationsEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if !enabled {
		return nil, nil
	}

	var raised []*database.Notification
	for slot, weight := range snap.Weights {
		alert, ok := AlertFor(slot, weight)
		if !ok {
			continue
		}

		acquired, err := e.cooldown.Acquire(ctx, snap.DeviceID, slot)
		if err != nil {
			return raised, err
		}
		if !acquired {
			continue
		}

		n, err := e.raise(ctx, snap, slot, weight, alert)
		if err != nil {
			return raised, err
		}
		raised = append(raised, n)
	}

	return raised, nil
}

func (e *Evaluator) raise(ctx context.Context, snap *protocol.ReadingSnapshot, slot int, weight float64, alert Alert) (*database.Notification, error) {
	deviceID := snap.DeviceID
	n := &database.Notification{
		ID:          e.newID(snap, slot),
		DeviceID:    deviceID,
		Slot:        slot,
		Kind:        string(alert.Kind),
		Status:      alert.Status,
		Title:       alert.Title,
		Description: alert.Description,
		Weight:      weight,
		CreatedAt:   e.now(),
	}

	if err := e.store.InsertNotification(ctx, n); err != nil {
		// nothing was persisted, so a redelivery may raise it again
		e.release(ctx, deviceID, slot)
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}

	e.log.Info("notification raised",
		zap.String("device_id", deviceID),
		zap.Int("slot", slot),
		zap.String("status", string(alert.Status)),
		zap.Float64("weight", weight))

	req := &protocol.NotificationRequest{
		ID:        n.ID,
		DeviceID:  deviceID,
		Slot:      slot,
		Kind:      alert.Kind,
		Severity:  alert.Status,
		Title:     alert.Title,
		Body:      alert.Description,
		Weight:    weight,
		CreatedAt: n.CreatedAt,
	}
	data, err := protocol.EncodeNotificationRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := e.publisher.Publish(ctx, queue.NotificationKey(deviceID, slot), data); err != nil {
		// the redelivered snapshot stores the same ID again as a no-op and
		// retries the publish
		e.release(ctx, deviceID, slot)
		return nil, fmt.Errorf("failed to publish notification: %w", err)
	}

	return n, nil
}

func (e *Evaluator) release(ctx context.Context, deviceID string, slot int) {
	if err := e.cooldown.Release(ctx, deviceID, slot); err != nil {
		e.log.Warn("failed to release cooldown",
			zap.String("device_id", deviceID),
			zap.Int("slot", slot),
			zap.Error(err))
	}
}

// NotificationID derives a stable ID from the snapshot and slot, so handling
// the same Kafka message twice yields the same notification.
func NotificationID(snap *protocol.ReadingSnapshot, slot int) string {
	name := fmt.Sprintf("%s|%s|%d", snap.DeviceID, snap.ReceivedAt.UTC().Format(time.RFC3339Nano), slot)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
