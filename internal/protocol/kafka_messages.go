package protocol

import (
	"encoding/json"
	"time"

	"github.com/smukkama/egg-grader/internal/grading"
)

// ReadingSnapshot is the internal message format for Kafka. Weights are
// already normalised, one per slot.
type ReadingSnapshot struct {
	ConnectionID string    `json:"connection_id"`
	DeviceID     string    `json:"device_id"`
	ReceivedAt   time.Time `json:"received_at"`
	Timestamp    time.Time `json:"timestamp"`
	Weights      []float64 `json:"weights"`
}

// NotificationKind tells a warning (Peewee) from an error (overweight).
type NotificationKind string

const (
	KindWarning NotificationKind = "warning"
	KindError   NotificationKind = "error"
)

// NotificationRequest asks the notification service to deliver an alert
// about one load cell.
type NotificationRequest struct {
	ID        string           `json:"id"`
	DeviceID  string           `json:"device_id"`
	Slot      int              `json:"slot"`
	Kind      NotificationKind `json:"kind"`
	Severity  grading.Status   `json:"severity"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Weight    float64          `json:"weight"`
	CreatedAt time.Time        `json:"created_at"`
}

// EncodeReadingSnapshot encodes a ReadingSnapshot to JSON
func EncodeReadingSnapshot(msg *ReadingSnapshot) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeReadingSnapshot decodes JSON to ReadingSnapshot
func DecodeReadingSnapshot(data []byte) (*ReadingSnapshot, error) {
	var msg ReadingSnapshot
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeNotificationRequest encodes a NotificationRequest to JSON
func EncodeNotificationRequest(req *NotificationRequest) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeNotificationRequest decodes JSON to NotificationRequest
func DecodeNotificationRequest(data []byte) (*NotificationRequest, error) {
	var req NotificationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
