package stream

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorenzodonini/netmic/internal/audio"
)

func newTestManager(t *testing.T, source audio.Source, idle time.Duration, recorder Recorder) *Manager {
	t.Helper()
	mgr, err := NewManager(testLogger(), ManagerConfig{
		Source:        source,
		Params:        testParams(),
		QueueCapacity: DefaultQueueCapacity,
		IdleTimeout:   idle,
	}, recorder)
	require.NoError(t, err)
	return mgr
}

func TestNewManager(t *testing.T) {
	mgr, err := NewManager(testLogger(), ManagerConfig{
		Source: &audio.MemorySource{},
		Params: testParams(),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultQueueCapacity, mgr.Config().QueueCapacity)
	assert.Equal(t, DefaultIdleTimeout, mgr.Config().IdleTimeout)
	assert.Equal(t, PhaseIdle, mgr.Phase())
	assert.Equal(t, 0, mgr.GetActiveSessionCount())

	_, active := mgr.Current()
	assert.False(t, active)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(testLogger(), ManagerConfig{Params: testParams()}, nil)
	assert.Error(t, err)

	params := testParams()
	params.Channels = 0
	_, err = NewManager(testLogger(), ManagerConfig{Source: &audio.MemorySource{}, Params: params}, nil)
	assert.Error(t, err)
}

func TestHandleConnSteadyStreamShutdown(t *testing.T) {
	source := endlessSource(time.Millisecond)
	recorder := newCountingRecorder()
	mgr := newTestManager(t, source, time.Second, recorder)
	conn := newFakeConn()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan SessionInfo, 1)
	go func() {
		done <- mgr.HandleConn(ctx, conn)
	}()

	require.Eventually(t, func() bool { return conn.Len() >= 40 }, 2*time.Second, time.Millisecond)

	current, active := mgr.Current()
	require.True(t, active)
	assert.True(t, current.Recording)
	assert.Equal(t, "127.0.0.1:50123", current.RemoteAddr)

	cancel()

	var info SessionInfo
	select {
	case info = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Session did not end after shutdown")
	}

	assert.Equal(t, CauseShutdown, info.Cause)
	assert.False(t, info.Recording)
	assert.NotNil(t, info.EndTime)
	assert.True(t, conn.IsClosed())
	assert.Equal(t, 1, source.Closed())

	// frames arrive in capture order, and nothing is sent twice
	seqs := decodeSeqs(t, conn.Bytes())
	for i := 1; i < len(seqs); i++ {
		require.Greater(t, seqs[i], seqs[i-1])
	}
	assert.LessOrEqual(t, info.FramesSent+info.FramesDropped, info.FramesCaptured)
	assert.Equal(t, uint64(len(seqs)), info.FramesSent)

	stats := mgr.GetStats()
	assert.Equal(t, uint64(1), stats.SessionsServed)
	assert.Equal(t, uint64(1), stats.SessionsByCause["shutdown"])
	require.NotNil(t, stats.LastSession)
	assert.Equal(t, info.ID, stats.LastSession.ID)
	assert.Equal(t, 1, recorder.started)
	assert.Equal(t, 1, recorder.ended["shutdown"])
}

func TestHandleConnIdleTimeout(t *testing.T) {
	// the device delivers far slower than the network loop is willing to wait
	source := endlessSource(300 * time.Millisecond)
	mgr := newTestManager(t, source, 30*time.Millisecond, nil)
	conn := newFakeConn()

	info := mgr.HandleConn(context.Background(), conn)

	assert.Equal(t, CauseIdleTimeout, info.Cause)
	assert.Equal(t, uint64(0), info.FramesSent)
	assert.True(t, conn.IsClosed())
	assert.Equal(t, 1, source.Closed())
}

func TestHandleConnTransportFailure(t *testing.T) {
	source := endlessSource(time.Millisecond)
	mgr := newTestManager(t, source, time.Second, nil)
	conn := newFakeConn()
	conn.failOnWrite = 2

	info := mgr.HandleConn(context.Background(), conn)

	assert.Equal(t, CauseTransportFailure, info.Cause)
	assert.Equal(t, uint64(1), info.FramesSent)
	assert.Contains(t, info.Error, "broken pipe")
	assert.Equal(t, []int{0}, decodeSeqs(t, conn.Bytes()))
	assert.Equal(t, 1, source.Closed())
}

func TestHandleConnDeviceFailure(t *testing.T) {
	source := &audio.MemorySource{OpenErr: errors.New("Invalid sample rate")}
	mgr := newTestManager(t, source, time.Second, nil)
	conn := newFakeConn()

	start := time.Now()
	info := mgr.HandleConn(context.Background(), conn)

	assert.Equal(t, CauseDeviceFailure, info.Cause)
	assert.Contains(t, info.Error, "Invalid sample rate")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, conn.IsClosed())
	assert.Equal(t, uint64(1), mgr.GetStats().DeviceFailures)
}

func TestHandleConnCaptureEndedDrains(t *testing.T) {
	source := &audio.MemorySource{Frames: seqFrames(10)}
	mgr := newTestManager(t, source, time.Second, nil)
	conn := newFakeConn()

	info := mgr.HandleConn(context.Background(), conn)

	assert.Equal(t, CauseCaptureEnded, info.Cause)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, decodeSeqs(t, conn.Bytes()))
}

func TestServeSerializesSessions(t *testing.T) {
	source := endlessSource(time.Millisecond)
	mgr := newTestManager(t, source, time.Second, nil)
	ln := newFakeListener()

	first := newFakeConn()
	first.failOnWrite = 3
	second := newFakeConn()
	second.failOnWrite = 5
	ln.conns <- first
	ln.conns <- second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- mgr.Serve(ctx, ln)
	}()

	require.Eventually(t, func() bool { return mgr.GetStats().SessionsServed == 2 }, 2*time.Second, time.Millisecond)

	// each session opened its own stream, one after the other
	assert.Equal(t, 2, source.Opened())
	assert.Equal(t, []int{0, 1}, decodeSeqs(t, first.Bytes()))
	assert.Equal(t, []int{0, 1, 2, 3}, decodeSeqs(t, second.Bytes()))

	require.Eventually(t, func() bool { return mgr.Phase() == PhaseAccepting }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}

	assert.Equal(t, PhaseStopped, mgr.Phase())
	assert.Equal(t, uint64(2), mgr.GetStats().SessionsByCause["transport_failure"])
}

func TestServeShutdownDuringSession(t *testing.T) {
	source := endlessSource(time.Millisecond)
	mgr := newTestManager(t, source, time.Second, nil)
	ln := newFakeListener()
	conn := newFakeConn()
	ln.conns <- conn

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- mgr.Serve(ctx, ln)
	}()

	require.Eventually(t, func() bool { return conn.Len() > 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, PhaseActive, mgr.Phase())
	cancel()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}

	stats := mgr.GetStats()
	require.NotNil(t, stats.LastSession)
	assert.Equal(t, CauseShutdown, stats.LastSession.Cause)
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, ln.Close(), net.ErrClosed)
}

func TestServeRetriesAcceptErrors(t *testing.T) {
	source := &audio.MemorySource{Frames: seqFrames(2)}
	mgr := newTestManager(t, source, time.Second, nil)
	ln := newFakeListener()
	ln.errs <- errors.New("accept: too many open files")
	conn := newFakeConn()
	ln.conns <- conn

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- mgr.Serve(ctx, ln)
	}()

	require.Eventually(t, func() bool { return mgr.GetStats().SessionsServed == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), mgr.GetStats().AcceptErrors)

	cancel()
	require.NoError(t, <-served)
}

func TestServeListenerClosedExternally(t *testing.T) {
	mgr := newTestManager(t, &audio.MemorySource{}, time.Second, nil)
	ln := newFakeListener()
	require.NoError(t, ln.Close())

	err := mgr.Serve(context.Background(), ln)
	assert.Error(t, err)
}

func TestPhaseNames(t *testing.T) {
	assert.Equal(t, "listening", PhaseListening.String())
	assert.Equal(t, "draining", PhaseDraining.String())
	assert.Equal(t, "terminating", PhaseTerminating.String())
}
