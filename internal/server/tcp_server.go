package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/connection"
	"github.com/smukkama/egg-grader/internal/protocol"
	"github.com/smukkama/egg-grader/internal/queue"
	"github.com/smukkama/egg-grader/internal/timer"
	"github.com/smukkama/egg-grader/pkg/config"
)

const maxLineLength = 64 * 1024

// ConnectionJob is one line read from an identified device
type ConnectionJob struct {
	ConnectionID string
	DeviceID     string
	Slots        int
	Data         []byte
	Conn         net.Conn
	ReceivedAt   time.Time
}

// TCPServer accepts grader controllers. Each connection gets a lightweight
// reader goroutine; parsing and publishing happen on a fixed worker pool.
type TCPServer struct {
	config       *config.TCPServerConfig
	connManager  *connection.Manager
	timerManager *timer.Manager
	publisher    queue.Publisher
	log          *zap.Logger
	listener     net.Listener

	jobQueue    chan *ConnectionJob
	workerCount int

	acceptWg sync.WaitGroup
	workerWg sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewTCPServer creates a new worker pool TCP server
func NewTCPServer(
	cfg *config.TCPServerConfig,
	connManager *connection.Manager,
	timerManager *timer.Manager,
	publisher queue.Publisher,
	log *zap.Logger,
) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 10
	}
	jobQueueSize := cfg.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 1000
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &TCPServer{
		config:       cfg,
		connManager:  connManager,
		timerManager: timerManager,
		publisher:    publisher,
		log:          log,
		jobQueue:     make(chan *ConnectionJob, jobQueueSize),
		workerCount:  workerCount,
		stopCh:       make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts listening and the worker pool
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener

	for i := 0; i < s.workerCount; i++ {
		w := &worker{id: i, server: s}
		s.workerWg.Add(1)
		go w.run()
	}

	s.acceptWg.Add(1)
	go s.acceptConnections()

	s.log.Info("tcp server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("workers", s.workerCount))
	return nil
}

// Addr returns the listening address, useful when the port was 0.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every device connection, then drains the
// worker pool.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("stopping tcp server")
		close(s.stopCh)

		if s.listener != nil {
			s.listener.Close()
		}
		for _, d := range s.connManager.Devices() {
			if info, ok := s.connManager.Get(d.ConnectionID); ok {
				info.Conn.Close()
			}
		}

		s.acceptWg.Wait()
		close(s.jobQueue)
		s.workerWg.Wait()
		s.cancel()

		s.log.Info("tcp server stopped")
	})
}

func (s *TCPServer) acceptConnections() {
	defer s.acceptWg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.Warn("accept failed", zap.Error(err))
				continue
			}
		}

		if s.connManager.Count() >= s.config.MaxConnections {
			s.log.Warn("maximum connections reached, rejecting", zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		s.acceptWg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection performs the identify handshake and then only reads,
// handing every line to the worker pool.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.acceptWg.Done()
	defer conn.Close()

	connectionID := uuid.New().String()
	log := s.log.With(zap.String("connection_id", connectionID))
	log.Debug("new connection", zap.String("remote", conn.RemoteAddr().String()))

	conn.SetReadDeadline(time.Now().Add(s.config.IdentifyTimeout))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineLength)
	if !scanner.Scan() {
		log.Debug("no identify message", zap.Error(scanner.Err()))
		return
	}

	msg, err := protocol.ParseMessage(scanner.Bytes())
	if err != nil {
		log.Warn("invalid identify message", zap.Error(err))
		s.sendError(conn)
		return
	}
	identify, ok := msg.(*protocol.IdentifyMessage)
	if !ok {
		log.Warn("expected identify message", zap.String("got", fmt.Sprintf("%T", msg)))
		s.sendError(conn)
		return
	}

	if err := s.connManager.Register(connectionID, identify.DeviceID, identify.Slots, conn); err != nil {
		log.Warn("failed to register device", zap.Error(err))
		s.sendError(conn)
		return
	}
	defer func() {
		s.timerManager.Cancel(inactivityTimerID(connectionID))
		s.connManager.Unregister(connectionID)
	}()

	log = log.With(zap.String("device_id", identify.DeviceID))
	log.Info("device identified", zap.Int("slots", identify.Slots))
	if n := len(s.connManager.GetByDevice(identify.DeviceID)); n > 1 {
		log.Warn("device has more than one open connection", zap.Int("connections", n))
	}

	if err := s.sendMessage(conn, protocol.NewAckMessage(protocol.AckStatusIdentified)); err != nil {
		log.Warn("failed to send ack", zap.Error(err))
		return
	}

	select {
	case <-s.stopCh:
		return
	default:
	}

	// Stop and the inactivity timer unblock the reader by closing conn
	conn.SetReadDeadline(time.Time{})
	s.scheduleInactivityTimer(connectionID)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		job := &ConnectionJob{
			ConnectionID: connectionID,
			DeviceID:     identify.DeviceID,
			Slots:        identify.Slots,
			Data:         append([]byte(nil), line...),
			Conn:         conn,
			ReceivedAt:   time.Now().UTC(),
		}

		select {
		case <-s.stopCh:
			return
		default:
		}

		select {
		case s.jobQueue <- job:
		default:
			log.Warn("job queue full, dropping message")
		}

		s.connManager.UpdateActivity(connectionID)
		s.scheduleInactivityTimer(connectionID)
	}

	log.Info("connection closed", zap.Error(scanner.Err()))
}

type worker struct {
	id     int
	server *TCPServer
}

func (w *worker) run() {
	defer w.server.workerWg.Done()

	for job := range w.server.jobQueue {
		w.processJob(job)
	}
}

func (w *worker) processJob(job *ConnectionJob) {
	log := w.server.log.With(
		zap.Int("worker", w.id),
		zap.String("connection_id", job.ConnectionID),
		zap.String("device_id", job.DeviceID))

	msg, err := protocol.ParseMessage(job.Data)
	if err != nil {
		log.Warn("invalid message", zap.Error(err))
		w.server.sendError(job.Conn)
		return
	}

	switch m := msg.(type) {
	case *protocol.ReadingsMessage:
		if err := w.handleReadings(job, m); err != nil {
			log.Warn("failed to handle readings", zap.Error(err))
			w.server.sendError(job.Conn)
		}

	case *protocol.KeepaliveMessage:
		if err := w.server.sendMessage(job.Conn, protocol.NewAckMessage(protocol.AckStatusAlive)); err != nil {
			log.Debug("failed to ack keepalive", zap.Error(err))
		}

	default:
		log.Warn("unexpected message after identify", zap.String("type", fmt.Sprintf("%T", msg)))
		w.server.sendError(job.Conn)
	}
}

func (w *worker) handleReadings(job *ConnectionJob, msg *protocol.ReadingsMessage) error {
	if len(msg.Data.Weights) != job.Slots {
		return fmt.Errorf("%w: got %d weights for %d slots", protocol.ErrInvalidMessage, len(msg.Data.Weights), job.Slots)
	}

	ts, _ := time.Parse(time.RFC3339, msg.Data.Timestamp)
	snapshot := &protocol.ReadingSnapshot{
		ConnectionID: job.ConnectionID,
		DeviceID:     job.DeviceID,
		ReceivedAt:   job.ReceivedAt,
		Timestamp:    ts.UTC(),
		Weights:      msg.Data.Normalize(job.Slots),
	}

	data, err := protocol.EncodeReadingSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := w.server.publisher.Publish(w.server.ctx, job.DeviceID, data); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	if info, ok := w.server.connManager.Get(job.ConnectionID); ok {
		info.RecordReading(job.ReceivedAt)
	}
	return nil
}

func (s *TCPServer) sendMessage(conn net.Conn, msg interface{}) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write(append(data, '\n'))
	return err
}

func (s *TCPServer) sendError(conn net.Conn) {
	s.sendMessage(conn, protocol.NewAckMessage(protocol.AckStatusError))
}

func inactivityTimerID(connectionID string) string {
	return "inactivity-" + connectionID
}

func (s *TCPServer) scheduleInactivityTimer(connectionID string) {
	expiryAt := time.Now().Add(s.config.InactivityTimeout)

	err := s.timerManager.Schedule(inactivityTimerID(connectionID), expiryAt, func() {
		info, exists := s.connManager.Get(connectionID)
		if !exists {
			return
		}
		s.log.Info("inactivity timeout, closing connection",
			zap.String("connection_id", connectionID),
			zap.String("device_id", info.DeviceID))
		// the reader goroutine unregisters on its way out
		info.Conn.Close()
	})
	if err != nil {
		s.log.Debug("failed to schedule inactivity timer", zap.Error(err))
	}
}
