package stream

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lorenzodonini/netmic/internal/audio"
)

// DefaultIdleTimeout is how long the network loop waits for a frame before it
// ends the session
const DefaultIdleTimeout = 5 * time.Second

// ErrConnectionBroken is reported when the peer accepts zero bytes without an error
var ErrConnectionBroken = errors.New("socket connection broke")

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Consumer is the network loop of a session: it pops frames and writes each one
// to the client in full. It is the authoritative terminator of a session.
type Consumer struct {
	conn         io.WriteCloser
	queue        *FrameQueue
	state        *RecordingState
	logger       *slog.Logger
	recorder     Recorder
	idleTimeout  time.Duration
	writeTimeout time.Duration

	sent      atomic.Uint64
	bytesSent atomic.Uint64

	mu  sync.Mutex
	err error
}

// NewConsumer creates a network loop. A non-positive idleTimeout uses
// DefaultIdleTimeout; writeTimeout of zero leaves writes unbounded.
func NewConsumer(conn io.WriteCloser, queue *FrameQueue, state *RecordingState,
	idleTimeout, writeTimeout time.Duration, logger *slog.Logger, recorder Recorder) *Consumer {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Consumer{
		conn:         conn,
		queue:        queue,
		state:        state,
		logger:       logger,
		recorder:     recorder,
		idleTimeout:  idleTimeout,
		writeTimeout: writeTimeout,
	}
}

// Run sends frames until a terminal condition, then clears the recording state,
// closes the connection and returns the session's cause.
func (c *Consumer) Run() Cause {
	cause := c.sendLoop()

	c.state.Stop(cause)
	c.logger.Info("Set recording to false", slog.String("cause", c.state.Cause().String()))

	if err := c.conn.Close(); err != nil {
		c.logger.Debug("Error closing client connection", slog.String("error", err.Error()))
	}

	return c.state.Cause()
}

func (c *Consumer) sendLoop() Cause {
	for {
		frame, result := c.queue.Pop(c.state.Context(), c.idleTimeout)
		c.recorder.SetQueueDepth(c.queue.Len())

		switch result {
		case TimedOut:
			c.logger.Info("Network loop timed out waiting for audio data, closing socket",
				slog.Duration("idle_timeout", c.idleTimeout),
			)
			return CauseIdleTimeout
		case Stopped:
			return c.state.Cause()
		}

		start := time.Now()
		if err := c.send(frame); err != nil {
			c.setErr(err)
			c.logger.Error("Error while sending audio data over network",
				slog.String("error", err.Error()),
				slog.Int("frame_bytes", len(frame)),
			)
			return CauseTransportFailure
		}

		c.sent.Add(1)
		c.bytesSent.Add(uint64(len(frame)))
		c.recorder.RecordFrameSent(len(frame), time.Since(start).Seconds())
	}
}

// send writes the whole frame, continuing after short writes
func (c *Consumer) send(frame audio.Frame) error {
	c.logger.Debug("Sending sampled audio bytes over network", slog.Int("bytes", len(frame)))

	if c.writeTimeout > 0 {
		if d, ok := c.conn.(writeDeadliner); ok {
			if err := d.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return err
			}
		}
	}

	return writeFull(c.conn, frame)
}

func writeFull(w io.Writer, data []byte) error {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConnectionBroken
		}
		total += n
	}
	return nil
}

func (c *Consumer) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Err returns the transport error that ended the session, if any
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Sent returns the number of frames delivered in full
func (c *Consumer) Sent() uint64 { return c.sent.Load() }

// BytesSent returns the number of bytes delivered
func (c *Consumer) BytesSent() uint64 { return c.bytesSent.Load() }
