package stream

// Recorder receives pipeline events for instrumentation. The metrics package
// provides the Prometheus implementation.
type Recorder interface {
	RecordSessionStarted()
	RecordSessionEnded(cause string, durationSeconds float64)
	RecordFrameCaptured()
	RecordFrameDropped()
	RecordFrameSent(sizeBytes int, durationSeconds float64)
	RecordDeviceReadError()
	SetQueueDepth(depth int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionStarted() {}
func (nopRecorder) RecordSessionEnded(string, float64) {}
func (nopRecorder) RecordFrameCaptured() {}
func (nopRecorder) RecordFrameDropped() {}
func (nopRecorder) RecordFrameSent(int, float64) {}
func (nopRecorder) RecordDeviceReadError() {}
func (nopRecorder) SetQueueDepth(int) {}
