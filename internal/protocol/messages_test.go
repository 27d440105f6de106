package protocol

import (
	"errors"
	"math"
	"testing"
)

func TestParseMessage_Identify(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"identify","device_id":"grader-01","slots":16}`))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	identify, ok := msg.(*IdentifyMessage)
	if !ok {
		t.Fatalf("Expected *IdentifyMessage, got %T", msg)
	}
	if identify.DeviceID != "grader-01" || identify.Slots != 16 {
		t.Errorf("Unexpected identify message: %+v", identify)
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `{"type":`},
		{"unknown type", `{"type":"metrics"}`},
		{"missing device", `{"type":"identify","slots":16}`},
		{"zero slots", `{"type":"identify","device_id":"g","slots":0}`},
		{"too many slots", `{"type":"identify","device_id":"g","slots":1000}`},
		{"missing timestamp", `{"type":"readings","data":{"weights":[1]}}`},
		{"bad timestamp", `{"type":"readings","data":{"timestamp":"yesterday","weights":[1]}}`},
		{"no weights", `{"type":"readings","data":{"timestamp":"2026-03-15T10:00:00Z","weights":[]}}`},
		{"string weight", `{"type":"readings","data":{"timestamp":"2026-03-15T10:00:00Z","weights":["heavy"]}}`},
	}

	for _, tt := range tests {
		_, err := ParseMessage([]byte(tt.line))
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("%s: expected ErrInvalidMessage, got %v", tt.name, err)
		}
	}
}

func TestParseMessage_ReadingsNormalize(t *testing.T) {
	line := `{"type":"readings","data":{"timestamp":"2026-03-15T10:00:00Z","weights":[52.5,null,-3,600,0]}}`

	msg, err := ParseMessage([]byte(line))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	readings, ok := msg.(*ReadingsMessage)
	if !ok {
		t.Fatalf("Expected *ReadingsMessage, got %T", msg)
	}

	got := readings.Data.Normalize(8)
	want := []float64{52.5, 0, 0, 600, 0, 0, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("Expected %d slots, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if short := readings.Data.Normalize(2); len(short) != 2 || short[0] != 52.5 {
		t.Errorf("Expected extra weights to be dropped, got %v", short)
	}
}

func TestNormalizeWeights(t *testing.T) {
	in := []float64{math.NaN(), math.Inf(1), math.Inf(-1), -0.5, 10000, 57}
	out := NormalizeWeights(in)

	want := []float64{0, 0, 0, 0, 10000, 57}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("index %d: expected %v, got %v", i, want[i], out[i])
		}
	}
	if !math.IsNaN(in[0]) {
		t.Error("NormalizeWeights modified its input")
	}
}

func TestNotificationRequestRoundTrip(t *testing.T) {
	req := &NotificationRequest{ID: "n1", DeviceID: "grader-01", Slot: 3, Kind: KindError, Severity: "Critical", Weight: 612.4}

	data, err := EncodeNotificationRequest(req)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeNotificationRequest(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Slot != 3 || decoded.Kind != KindError || decoded.Severity != "Critical" {
		t.Errorf("Unexpected decoded request: %+v", decoded)
	}
}
