package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MessageType represents the type of message
type MessageType string

const (
	// Device to Server
	MsgTypeIdentify  MessageType = "identify"
	MsgTypeReadings  MessageType = "readings"
	MsgTypeKeepalive MessageType = "keepalive"

	// Server to Device
	MsgTypeAck MessageType = "ack"
)

// MaxSlots bounds the slot count a device may announce.
const MaxSlots = 256

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage is sent by the grader controller on connection
type IdentifyMessage struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
	Slots    int         `json:"slots"`
}

// ReadingData is one sampling cycle of every load cell. Weights are grams,
// indexed by slot; a null entry is a slot that did not report.
type ReadingData struct {
	Timestamp string     `json:"timestamp"`
	Weights   []*float64 `json:"weights"`
}

// ReadingsMessage carries one sampling cycle
type ReadingsMessage struct {
	Type MessageType `json:"type"`
	Data ReadingData `json:"data"`
}

// KeepaliveMessage is sent by the device between sampling cycles
type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AckMessage is sent by the server in response to messages
type AckMessage struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// AckStatus constants
const (
	AckStatusIdentified = "identified"
	AckStatusAlive      = "alive"
	AckStatusError      = "error"
)

// ErrInvalidMessage wraps every parse and validation failure.
var ErrInvalidMessage = &ProtocolError{"invalid message"}

// ProtocolError represents a protocol error
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string {
	return e.msg
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, invalid("invalid JSON: %v", err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalid("invalid identify message: %v", err)
		}
		if err := validateIdentify(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeReadings:
		var msg ReadingsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalid("invalid readings message: %v", err)
		}
		if err := validateReadings(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeKeepalive:
		var msg KeepaliveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalid("invalid keepalive message: %v", err)
		}
		return &msg, nil

	default:
		return nil, invalid("unknown message type: %s", base.Type)
	}
}

func validateIdentify(msg *IdentifyMessage) error {
	if msg.DeviceID == "" {
		return invalid("device_id is required")
	}
	if msg.Slots <= 0 || msg.Slots > MaxSlots {
		return invalid("slots must be between 1 and %d", MaxSlots)
	}
	return nil
}

func validateReadings(msg *ReadingsMessage) error {
	if msg.Data.Timestamp == "" {
		return invalid("timestamp is required")
	}
	if _, err := time.Parse(time.RFC3339, msg.Data.Timestamp); err != nil {
		return invalid("invalid timestamp format (must be RFC3339): %v", err)
	}
	if len(msg.Data.Weights) == 0 {
		return invalid("weights are required")
	}
	return nil
}

// Normalize returns one weight per slot. Missing slots, null entries, NaN,
// infinities and negative values all become 0 (empty).
func (d *ReadingData) Normalize(slots int) []float64 {
	out := make([]float64, slots)
	for i := 0; i < slots && i < len(d.Weights); i++ {
		if d.Weights[i] != nil {
			out[i] = NormalizeWeight(*d.Weights[i])
		}
	}
	return out
}

// NormalizeWeight maps values the grading engine must not see to 0.
func NormalizeWeight(w float64) float64 {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return 0
	}
	return w
}

// NormalizeWeights applies NormalizeWeight to a copy of weights.
func NormalizeWeights(weights []float64) []float64 {
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = NormalizeWeight(w)
	}
	return out
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}
