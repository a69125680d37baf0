package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lorenzodonini/netmic/internal/config"
	"github.com/lorenzodonini/netmic/internal/stream"
)

// TCPServer owns the audio listening socket and drives the session manager on it
type TCPServer struct {
	listener  net.Listener
	config    *config.ServerConfig
	logger    *slog.Logger
	streamMgr *stream.Manager

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	startTime time.Time
	serveErr  error
	done      chan struct{}
}

// NewTCPServer creates a new TCP server instance
func NewTCPServer(cfg *config.ServerConfig, logger *slog.Logger, streamMgr *stream.Manager) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:    cfg,
		logger:    logger,
		streamMgr: streamMgr,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start binds the listening socket and begins serving clients in the background
func (s *TCPServer) Start() error {
	addr := s.config.ListenAddress()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
	)

	s.wg.Add(1)
	go s.serveLoop()

	return nil
}

func (s *TCPServer) serveLoop() {
	defer s.wg.Done()
	defer close(s.done)

	err := s.streamMgr.Serve(s.ctx, s.listener)
	if err != nil {
		s.logger.Error("TCP server stopped unexpectedly", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.serveErr = err
	s.mu.Unlock()
}

// Stop requests shutdown, lets the active session drain and waits for the
// listening socket to be released
func (s *TCPServer) Stop() error {
	s.logger.Info("Stopping TCP server...")

	s.cancel()
	s.wg.Wait()

	stats := s.streamMgr.GetStats()
	s.logger.Info("TCP server stopped",
		slog.Uint64("sessions_served", stats.SessionsServed),
		slog.Uint64("accept_errors", stats.AcceptErrors),
	)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.serveErr != nil && !errors.Is(s.serveErr, net.ErrClosed) {
		return s.serveErr
	}
	return nil
}

// Done is closed once the server has stopped serving, whether requested or not
func (s *TCPServer) Done() <-chan struct{} {
	return s.done
}

// Addr returns the bound address, or nil before Start
func (s *TCPServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetStatistics returns current server statistics
func (s *TCPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	startTime := s.startTime
	s.mu.RUnlock()

	stats := s.streamMgr.GetStats()
	result := ServerStatistics{
		Phase:           stats.Phase.String(),
		SessionsServed:  stats.SessionsServed,
		ActiveSessions:  uint64(stats.ActiveSessions),
		AcceptErrors:    stats.AcceptErrors,
		DeviceFailures:  stats.DeviceFailures,
		SessionsByCause: stats.SessionsByCause,
	}
	if addr := s.Addr(); addr != nil {
		result.Address = addr.String()
	}
	if !startTime.IsZero() {
		result.Uptime = time.Since(startTime).Round(time.Second).String()
	}
	return result
}

// ServerStatistics represents TCP server and session counters
type ServerStatistics struct {
	Address         string            `json:"address"`
	Uptime          string            `json:"uptime"`
	Phase           string            `json:"phase"`
	SessionsServed  uint64            `json:"sessions_served"`
	ActiveSessions  uint64            `json:"active_sessions"`
	AcceptErrors    uint64            `json:"accept_errors"`
	DeviceFailures  uint64            `json:"device_failures"`
	SessionsByCause map[string]uint64 `json:"sessions_by_cause"`
}
