package stream

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingStateStartsRecording(t *testing.T) {
	state := NewRecordingState()

	assert.True(t, state.IsRecording())
	assert.Equal(t, CauseNone, state.Cause())
	assert.NoError(t, state.Context().Err())
}

func TestRecordingStateFirstCauseWins(t *testing.T) {
	state := NewRecordingState()

	require.True(t, state.Stop(CauseIdleTimeout))
	assert.False(t, state.Stop(CauseTransportFailure))
	assert.False(t, state.Stop(CauseShutdown))

	assert.False(t, state.IsRecording())
	assert.Equal(t, CauseIdleTimeout, state.Cause())

	select {
	case <-state.Done():
	default:
		t.Fatal("Expected Done to be closed after Stop")
	}
}

func TestRecordingStateConcurrentStop(t *testing.T) {
	state := NewRecordingState()
	causes := []Cause{CauseIdleTimeout, CauseTransportFailure, CauseDeviceFailure, CauseCaptureEnded, CauseShutdown}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []Cause
	)
	for _, cause := range causes {
		wg.Add(1)
		go func(c Cause) {
			defer wg.Done()
			if state.Stop(c) {
				mu.Lock()
				winners = append(winners, c)
				mu.Unlock()
			}
		}(cause)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], state.Cause())
	assert.False(t, state.IsRecording())
}

func TestCauseNames(t *testing.T) {
	tests := []struct {
		cause    Cause
		expected string
	}{
		{CauseNone, "none"},
		{CauseIdleTimeout, "idle_timeout"},
		{CauseTransportFailure, "transport_failure"},
		{CauseDeviceFailure, "device_failure"},
		{CauseCaptureEnded, "capture_ended"},
		{CauseShutdown, "shutdown"},
		{Cause(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cause.String())
		})
	}

	data, err := json.Marshal(map[string]Cause{"cause": CauseTransportFailure})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cause":"transport_failure"}`, string(data))
}
