// Package audio defines the capture side of the service: sample formats, frame
// sizing, and the device boundary (Source and Stream) that the capture loop reads
// from. Concrete hardware backends live in sub-packages; a WAV file source and an
// in-memory source are provided here.
package audio
