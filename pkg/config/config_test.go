package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("GRADING_LOAD_CELLS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Grading.LoadCells != 16 || cfg.Grading.SlotsPerRow != 8 {
		t.Errorf("Expected 16 load cells in rows of 8, got %d/%d", cfg.Grading.LoadCells, cfg.Grading.SlotsPerRow)
	}
	if cfg.Grading.NotificationCooldown != 5*time.Minute {
		t.Errorf("Expected 5m cooldown, got %s", cfg.Grading.NotificationCooldown)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("Unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.TopicReadings != "eggs.readings.raw" {
		t.Errorf("Unexpected readings topic: %s", cfg.Kafka.TopicReadings)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("GRADING_NOTIFICATION_COOLDOWN", "90s")
	t.Setenv("PUSH_TOKENS", "ExponentPushToken[a],ExponentPushToken[b]")
	t.Setenv("TCP_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Grading.NotificationCooldown != 90*time.Second {
		t.Errorf("Expected 90s cooldown, got %s", cfg.Grading.NotificationCooldown)
	}
	if len(cfg.Push.Tokens) != 2 {
		t.Errorf("Expected 2 push tokens, got %v", cfg.Push.Tokens)
	}
	if cfg.TCPServer.Port != 8080 {
		t.Errorf("Expected invalid port to fall back to 8080, got %d", cfg.TCPServer.Port)
	}
}

func TestLoad_RejectsInvalidLayout(t *testing.T) {
	t.Setenv("GRADING_LOAD_CELLS", "-4")

	if _, err := Load(); err == nil {
		t.Error("Expected error for negative load cell count")
	}
}

func TestGradingConfig_Location(t *testing.T) {
	if loc := (GradingConfig{}).Location(); loc != time.UTC {
		t.Errorf("Expected UTC for empty timezone, got %s", loc)
	}
	if loc := (GradingConfig{DisplayTimezone: "Not/AZone"}).Location(); loc != time.UTC {
		t.Errorf("Expected UTC fallback, got %s", loc)
	}
}
