package stream

import (
	"context"
	"sync"
)

// Cause identifies why a session ended
type Cause int

const (
	CauseNone Cause = iota
	CauseIdleTimeout
	CauseTransportFailure
	CauseDeviceFailure
	CauseCaptureEnded
	CauseShutdown
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseIdleTimeout:
		return "idle_timeout"
	case CauseTransportFailure:
		return "transport_failure"
	case CauseDeviceFailure:
		return "device_failure"
	case CauseCaptureEnded:
		return "capture_ended"
	case CauseShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// MarshalText lets causes appear by name in JSON output
func (c Cause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// RecordingState is the per-session recording flag shared by the capture and
// network loops. It starts out recording; Stop clears it exactly once and the
// first cause wins. A cleared state never records again.
type RecordingState struct {
	mu        sync.Mutex
	recording bool
	cause     Cause

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRecordingState returns a state that is recording
func NewRecordingState() *RecordingState {
	ctx, cancel := context.WithCancel(context.Background())
	return &RecordingState{recording: true, ctx: ctx, cancel: cancel}
}

// IsRecording reports whether the session is still active
func (s *RecordingState) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Stop clears the flag. It returns true if this call cleared it and false if the
// state was already cleared, in which case the earlier cause is kept.
func (s *RecordingState) Stop(cause Cause) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		return false
	}
	s.recording = false
	s.cause = cause
	s.cancel()
	return true
}

// Cause returns the reason the state was cleared, or CauseNone while recording
func (s *RecordingState) Cause() Cause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Context is cancelled when the state is cleared
func (s *RecordingState) Context() context.Context {
	return s.ctx
}

// Done is closed when the state is cleared
func (s *RecordingState) Done() <-chan struct{} {
	return s.ctx.Done()
}
