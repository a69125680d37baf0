package stream

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorenzodonini/netmic/internal/audio"
)

// Session is one client connection together with its queue, recording state and
// the two loops feeding it
type Session struct {
	ID         uuid.UUID
	RemoteAddr string
	StartTime  time.Time

	Queue *FrameQueue
	State *RecordingState

	conn     net.Conn
	producer *Producer
	consumer *Consumer

	mu        sync.RWMutex
	endTime   time.Time
	deviceErr error
	closeOnce sync.Once
}

// SessionInfo is a point-in-time view of a session for logs and the status API
type SessionInfo struct {
	ID             string     `json:"id"`
	RemoteAddr     string     `json:"remote_addr"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Duration       string     `json:"duration"`
	Recording      bool       `json:"recording"`
	Cause          Cause      `json:"cause"`
	FramesCaptured uint64     `json:"frames_captured"`
	FramesDropped  uint64     `json:"frames_dropped"`
	FramesSent     uint64     `json:"frames_sent"`
	BytesSent      uint64     `json:"bytes_sent"`
	ReadErrors     uint64     `json:"read_errors"`
	Queue          QueueStats `json:"queue"`
	Error          string     `json:"error,omitempty"`
}

type sessionConfig struct {
	source       audio.Source
	params       audio.StreamParams
	capacity     int
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

func newSession(conn net.Conn, cfg sessionConfig, logger *slog.Logger, recorder Recorder) *Session {
	id := uuid.New()
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	logger = logger.With(
		slog.String("session_id", id.String()),
		slog.String("remote_addr", remote),
	)

	queue := NewFrameQueue(cfg.capacity)
	state := NewRecordingState()

	return &Session{
		ID:         id,
		RemoteAddr: remote,
		StartTime:  time.Now(),
		Queue:      queue,
		State:      state,
		conn:       conn,
		producer: NewProducer(cfg.source, cfg.params, queue, state,
			logger.With(slog.String("component", "capture")), recorder),
		consumer: NewConsumer(conn, queue, state, cfg.idleTimeout, cfg.writeTimeout,
			logger.With(slog.String("component", "network")), recorder),
	}
}

// closeConn is safe to call after the consumer already closed the connection
func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

func (s *Session) finish(deviceErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTime = time.Now()
	s.deviceErr = deviceErr
}

// Duration returns how long the session has run, or ran if it has ended
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.endTime.Sub(s.StartTime)
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	endTime := s.endTime
	deviceErr := s.deviceErr
	s.mu.RUnlock()

	info := SessionInfo{
		ID:             s.ID.String(),
		RemoteAddr:     s.RemoteAddr,
		StartTime:      s.StartTime,
		Recording:      s.State.IsRecording(),
		Cause:          s.State.Cause(),
		FramesCaptured: s.producer.Captured(),
		FramesDropped:  s.producer.Dropped(),
		FramesSent:     s.consumer.Sent(),
		BytesSent:      s.consumer.BytesSent(),
		ReadErrors:     s.producer.ReadErrors(),
		Queue:          s.Queue.Stats(),
	}

	if endTime.IsZero() {
		info.Duration = time.Since(s.StartTime).Round(time.Millisecond).String()
	} else {
		info.EndTime = &endTime
		info.Duration = endTime.Sub(s.StartTime).Round(time.Millisecond).String()
	}

	switch {
	case deviceErr != nil:
		info.Error = deviceErr.Error()
	case s.consumer.Err() != nil:
		info.Error = s.consumer.Err().Error()
	}

	return info
}
