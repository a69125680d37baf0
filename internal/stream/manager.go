package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lorenzodonini/netmic/internal/audio"
)

// Phase is the lifecycle position of the session manager
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseAccepting
	PhaseActive
	PhaseDraining
	PhaseTerminating
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseAccepting:
		return "accepting"
	case PhaseActive:
		return "active"
	case PhaseDraining:
		return "draining"
	case PhaseTerminating:
		return "terminating"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText lets phases appear by name in JSON output
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

const maxAcceptDelay = time.Second

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	Source        audio.Source
	Params        audio.StreamParams
	QueueCapacity int
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
}

// ManagerStats is a snapshot of the manager counters
type ManagerStats struct {
	Phase           Phase             `json:"phase"`
	ActiveSessions  int               `json:"active_sessions"`
	SessionsServed  uint64            `json:"sessions_served"`
	SessionsByCause map[string]uint64 `json:"sessions_by_cause"`
	AcceptErrors    uint64            `json:"accept_errors"`
	DeviceFailures  uint64            `json:"device_failures"`
	LastSession     *SessionInfo      `json:"last_session,omitempty"`
}

// Manager accepts clients one at a time and runs a capture/send session for each.
// Sessions are serialized: the next accept happens only after the previous
// session has fully drained.
type Manager struct {
	config   ManagerConfig
	logger   *slog.Logger
	recorder Recorder

	mu             sync.RWMutex
	phase          Phase
	current        *Session
	last           *SessionInfo
	sessionsServed uint64
	byCause        map[string]uint64
	acceptErrors   uint64
	deviceFailures uint64
}

// NewManager creates a session manager. A nil recorder disables instrumentation.
func NewManager(logger *slog.Logger, config ManagerConfig, recorder Recorder) (*Manager, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	if err := config.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream parameters: %w", err)
	}
	if config.QueueCapacity < 1 {
		config.QueueCapacity = DefaultQueueCapacity
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Manager{
		config:   config,
		logger:   logger,
		recorder: recorder,
		byCause:  make(map[string]uint64),
	}, nil
}

// Serve accepts connections on ln until ctx is cancelled or the listener fails.
// Cancelling ctx stops the active session, lets it drain and then closes ln.
// It returns nil after a requested shutdown.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	m.setPhase(PhaseListening)
	m.logger.Info("Listening for clients", slog.String("address", ln.Addr().String()))

	var (
		sessionMu sync.Mutex
		active    *Session
	)

	stop := context.AfterFunc(ctx, func() {
		m.setPhase(PhaseTerminating)
		m.logger.Info("Shutdown requested, stopping session manager")

		sessionMu.Lock()
		if active != nil {
			active.State.Stop(CauseShutdown)
		}
		sessionMu.Unlock()
	})
	defer stop()

	defer func() {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			m.logger.Warn("Error closing listener", slog.String("error", err.Error()))
		}
		m.setPhase(PhaseStopped)
		m.logger.Info("Session manager stopped")
	}()

	var acceptDelay time.Duration
	for ctx.Err() == nil {
		m.setPhase(PhaseAccepting)
		m.logger.Info("Waiting for connection")

		conn, err := m.accept(ctx, ln)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed: %w", err)
			}

			m.mu.Lock()
			m.acceptErrors++
			m.mu.Unlock()

			if acceptDelay == 0 {
				acceptDelay = 5 * time.Millisecond
			} else {
				acceptDelay *= 2
			}
			if acceptDelay > maxAcceptDelay {
				acceptDelay = maxAcceptDelay
			}
			m.logger.Warn("Accept error, retrying",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", acceptDelay),
			)
			select {
			case <-time.After(acceptDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		acceptDelay = 0

		session := newSession(conn, m.sessionConfig(), m.logger, m.recorder)
		sessionMu.Lock()
		active = session
		sessionMu.Unlock()
		if ctx.Err() != nil {
			session.State.Stop(CauseShutdown)
		}

		m.run(session)

		sessionMu.Lock()
		active = nil
		sessionMu.Unlock()
	}

	return nil
}

// accept unblocks a pending Accept when ctx is cancelled by closing ln
func (m *Manager) accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()
	return ln.Accept()
}

// HandleConn runs a single session on conn and blocks until it has drained.
// Cancelling ctx stops the session with CauseShutdown.
func (m *Manager) HandleConn(ctx context.Context, conn net.Conn) SessionInfo {
	session := newSession(conn, m.sessionConfig(), m.logger, m.recorder)
	stop := context.AfterFunc(ctx, func() {
		session.State.Stop(CauseShutdown)
	})
	defer stop()

	return m.run(session)
}

func (m *Manager) sessionConfig() sessionConfig {
	return sessionConfig{
		source:       m.config.Source,
		params:       m.config.Params,
		capacity:     m.config.QueueCapacity,
		idleTimeout:  m.config.IdleTimeout,
		writeTimeout: m.config.WriteTimeout,
	}
}

func (m *Manager) run(session *Session) SessionInfo {
	m.mu.Lock()
	m.current = session
	if m.phase != PhaseTerminating {
		m.phase = PhaseActive
	}
	m.mu.Unlock()

	m.recorder.RecordSessionStarted()
	m.logger.Info("Accepted connection",
		slog.String("session_id", session.ID.String()),
		slog.String("remote_addr", session.RemoteAddr),
	)

	consumerDone := make(chan Cause, 1)
	producerDone := make(chan error, 1)

	go func() {
		consumerDone <- session.consumer.Run()
	}()
	go func() {
		producerDone <- session.producer.Run()
	}()

	cause := <-consumerDone
	m.setPhase(PhaseDraining)

	deviceErr := <-producerDone
	if deviceErr != nil {
		m.logger.Error("Audio capture failed, are you using the correct audio input device?",
			slog.String("session_id", session.ID.String()),
			slog.String("error", deviceErr.Error()),
		)
	}

	session.closeConn()
	session.finish(deviceErr)
	info := session.Info()

	m.mu.Lock()
	m.current = nil
	m.last = &info
	m.sessionsServed++
	m.byCause[cause.String()]++
	if cause == CauseDeviceFailure {
		m.deviceFailures++
	}
	m.mu.Unlock()

	m.recorder.RecordSessionEnded(cause.String(), session.Duration().Seconds())
	m.recorder.SetQueueDepth(0)

	m.logger.Info("Finished handling client",
		slog.String("session_id", info.ID),
		slog.String("remote_addr", info.RemoteAddr),
		slog.String("cause", cause.String()),
		slog.String("duration", info.Duration),
		slog.Uint64("frames_captured", info.FramesCaptured),
		slog.Uint64("frames_sent", info.FramesSent),
		slog.Uint64("frames_dropped", info.FramesDropped),
	)

	return info
}

func (m *Manager) setPhase(phase Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// terminating sticks until the manager has stopped
	if m.phase == PhaseTerminating && phase != PhaseStopped {
		return
	}
	m.phase = phase
}

// Phase returns the current lifecycle phase
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Current returns a snapshot of the active session, if there is one
func (m *Manager) Current() (SessionInfo, bool) {
	m.mu.RLock()
	session := m.current
	m.mu.RUnlock()

	if session == nil {
		return SessionInfo{}, false
	}
	return session.Info(), true
}

// GetActiveSessionCount returns 1 while a client is being served, 0 otherwise
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current != nil {
		return 1
	}
	return 0
}

// GetStats returns a snapshot of the manager counters
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{
		Phase:           m.phase,
		SessionsServed:  m.sessionsServed,
		SessionsByCause: make(map[string]uint64, len(m.byCause)),
		AcceptErrors:    m.acceptErrors,
		DeviceFailures:  m.deviceFailures,
	}
	if m.current != nil {
		stats.ActiveSessions = 1
	}
	for cause, count := range m.byCause {
		stats.SessionsByCause[cause] = count
	}
	if m.last != nil {
		last := *m.last
		stats.LastSession = &last
	}
	return stats
}

// Config returns the configuration the manager runs with
func (m *Manager) Config() ManagerConfig {
	return m.config
}
