package database

import (
	"time"

	"github.com/smukkama/egg-grader/internal/grading"
)

// Device is a grader controller that has identified itself at least once
type Device struct {
	DeviceID    string    `json:"device_id"`
	Slots       int       `json:"slots"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// ReadingLog is one sampling cycle as received from a device
type ReadingLog struct {
	ID         int64
	DeviceID   string
	Timestamp  time.Time
	Weights    []float64
	ReceivedAt time.Time
}

// Notification is a stored alert about a single load cell
type Notification struct {
	ID          string         `json:"id"`
	DeviceID    string         `json:"device_id"`
	Slot        int            `json:"slot"`
	Kind        string         `json:"kind"`
	Status      grading.Status `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Weight      float64        `json:"weight"`
	Read        bool           `json:"read"`
	CreatedAt   time.Time      `json:"created_at"`
}
