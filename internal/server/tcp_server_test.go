package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/egg-grader/internal/connection"
	"github.com/smukkama/egg-grader/internal/protocol"
	"github.com/smukkama/egg-grader/internal/timer"
	"github.com/smukkama/egg-grader/pkg/config"
)

type published struct {
	key   string
	value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	ch   chan published
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{ch: make(chan published, 16)}
}

func (p *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, published{key, value})
	p.mu.Unlock()
	p.ch <- published{key, value}
	return nil
}

func startServer(t *testing.T, inactivity time.Duration) (*TCPServer, *connection.Manager, *fakePublisher) {
	t.Helper()

	cfg := &config.TCPServerConfig{
		Port:              0,
		MaxConnections:    10,
		IdentifyTimeout:   time.Second,
		InactivityTimeout: inactivity,
		WorkerCount:       2,
		JobQueueSize:      10,
	}
	connManager := connection.NewManager(cfg.MaxConnections)
	timerManager := timer.NewManager(1)
	timerManager.Start()
	pub := newFakePublisher()

	srv := NewTCPServer(cfg, connManager, timerManager, pub, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		srv.Stop()
		timerManager.Stop()
	})
	return srv, connManager, pub
}

func dial(t *testing.T, srv *TCPServer) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func send(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func readAck(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read ack: %v", err)
	}
	var ack protocol.AckMessage
	if err := json.Unmarshal([]byte(line), &ack); err != nil {
		t.Fatalf("Invalid ack %q: %v", line, err)
	}
	return ack.Status
}

func TestTCPServer_IdentifyAndPublish(t *testing.T) {
	srv, connManager, pub := startServer(t, time.Minute)
	conn, r := dial(t, srv)

	send(t, conn, `{"type":"identify","device_id":"grader-01","slots":4}`)
	if status := readAck(t, conn, r); status != protocol.AckStatusIdentified {
		t.Fatalf("Expected identified ack, got %s", status)
	}

	send(t, conn, `{"type":"readings","data":{"timestamp":"2026-03-15T10:00:00Z","weights":[52.5,null,-1,612]}}`)

	var msg published
	select {
	case msg = <-pub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Snapshot was not published")
	}

	if msg.key != "grader-01" {
		t.Errorf("Expected key grader-01, got %s", msg.key)
	}
	snap, err := protocol.DecodeReadingSnapshot(msg.value)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want := []float64{52.5, 0, 0, 612}
	for i := range want {
		if snap.Weights[i] != want[i] {
			t.Errorf("slot %d: expected %v, got %v", i, want[i], snap.Weights[i])
		}
	}
	if !snap.Timestamp.Equal(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected timestamp %s", snap.Timestamp)
	}
	if connIDs := connManager.GetByDevice("grader-01"); len(connIDs) != 1 || connIDs[0] != snap.ConnectionID {
		t.Errorf("Snapshot connection ID %s not registered: %v", snap.ConnectionID, connIDs)
	}

	send(t, conn, `{"type":"keepalive"}`)
	if status := readAck(t, conn, r); status != protocol.AckStatusAlive {
		t.Errorf("Expected alive ack, got %s", status)
	}
}

func TestTCPServer_RejectsWrongSlotCount(t *testing.T) {
	srv, _, pub := startServer(t, time.Minute)
	conn, r := dial(t, srv)

	send(t, conn, `{"type":"identify","device_id":"grader-01","slots":4}`)
	readAck(t, conn, r)

	send(t, conn, `{"type":"readings","data":{"timestamp":"2026-03-15T10:00:00Z","weights":[52.5]}}`)
	if status := readAck(t, conn, r); status != protocol.AckStatusError {
		t.Errorf("Expected error ack, got %s", status)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 0 {
		t.Errorf("Expected nothing published, got %d", len(pub.msgs))
	}
}

func TestTCPServer_RequiresIdentifyFirst(t *testing.T) {
	srv, connManager, _ := startServer(t, time.Minute)
	conn, r := dial(t, srv)

	send(t, conn, `{"type":"keepalive"}`)
	if status := readAck(t, conn, r); status != protocol.AckStatusError {
		t.Errorf("Expected error ack, got %s", status)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r.ReadString('\n'); err == nil {
		t.Error("Expected connection to be closed")
	}
	if connManager.Count() != 0 {
		t.Errorf("Expected no registered devices, got %d", connManager.Count())
	}
}

func TestTCPServer_InactivityClosesConnection(t *testing.T) {
	srv, connManager, _ := startServer(t, 100*time.Millisecond)
	conn, r := dial(t, srv)

	send(t, conn, `{"type":"identify","device_id":"grader-01","slots":4}`)
	readAck(t, conn, r)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r.ReadString('\n'); err == nil {
		t.Fatal("Expected connection to be closed after inactivity")
	}

	deadline := time.Now().Add(time.Second)
	for connManager.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if connManager.Count() != 0 {
		t.Errorf("Expected device to be unregistered, got %d connections", connManager.Count())
	}
}
