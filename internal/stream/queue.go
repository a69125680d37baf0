package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lorenzodonini/netmic/internal/audio"
)

// DefaultQueueCapacity is the number of frames buffered between capture and send
const DefaultQueueCapacity = 20

// PushResult reports whether a frame entered the queue
type PushResult int

const (
	Accepted PushResult = iota
	Dropped
)

func (r PushResult) String() string {
	if r == Dropped {
		return "dropped"
	}
	return "accepted"
}

// PopResult reports how a Pop ended
type PopResult int

const (
	Popped PopResult = iota
	TimedOut
	Stopped
)

func (r PopResult) String() string {
	switch r {
	case Popped:
		return "popped"
	case TimedOut:
		return "timed_out"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FrameQueue is a bounded FIFO of frames shared by one producer and one consumer.
// Push never blocks: when the queue is full the incoming frame is discarded and
// the frames already queued are kept.
type FrameQueue struct {
	frames chan audio.Frame

	accepted atomic.Uint64
	dropped  atomic.Uint64
	popped   atomic.Uint64
}

// QueueStats is a snapshot of queue counters
type QueueStats struct {
	Capacity int    `json:"capacity"`
	Length   int    `json:"length"`
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
	Popped   uint64 `json:"popped"`
}

// NewFrameQueue creates a queue holding at most capacity frames. A capacity
// below 1 falls back to DefaultQueueCapacity.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{frames: make(chan audio.Frame, capacity)}
}

// Push offers a frame without blocking
func (q *FrameQueue) Push(frame audio.Frame) PushResult {
	select {
	case q.frames <- frame:
		q.accepted.Add(1)
		return Accepted
	default:
		q.dropped.Add(1)
		return Dropped
	}
}

// Pop removes the oldest frame, waiting up to timeout for one to arrive. Frames
// already queued are returned even after ctx is done, so a stopped session
// still drains; Stopped is only reported once the queue is empty.
func (q *FrameQueue) Pop(ctx context.Context, timeout time.Duration) (audio.Frame, PopResult) {
	select {
	case frame := <-q.frames:
		q.popped.Add(1)
		return frame, Popped
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-q.frames:
		q.popped.Add(1)
		return frame, Popped
	case <-timer.C:
		return nil, TimedOut
	case <-ctx.Done():
		select {
		case frame := <-q.frames:
			q.popped.Add(1)
			return frame, Popped
		default:
			return nil, Stopped
		}
	}
}

// Len returns the number of frames waiting to be popped
func (q *FrameQueue) Len() int {
	return len(q.frames)
}

// Cap returns the queue capacity
func (q *FrameQueue) Cap() int {
	return cap(q.frames)
}

// Stats returns a snapshot of the queue counters
func (q *FrameQueue) Stats() QueueStats {
	return QueueStats{
		Capacity: cap(q.frames),
		Length:   len(q.frames),
		Accepted: q.accepted.Load(),
		Dropped:  q.dropped.Load(),
		Popped:   q.popped.Load(),
	}
}
