// Package stream runs the capture-and-send pipeline for one client at a time.
// A session pairs a capture loop, which reads frames from the input device into
// a bounded queue, with a network loop that writes them to the TCP client. The
// Manager accepts clients sequentially and records why each session ended.
package stream
