// Package audio defines the collaborator interfaces the adapters speak to
// instead of touching capture or playback devices, plus PCM16 conversion
// helpers shared by every wire protocol.
package audio

import "context"

// InputSource delivers capture frames as PCM16 sample chunks.
type InputSource interface {
	// Read blocks until the next chunk of samples is available.
	Read(ctx context.Context) ([]int16, error)
	SampleRate() int
	Channels() int
}

// OutputSink consumes synthesized audio for playback.
type OutputSink interface {
	// Write queues one chunk of decoded PCM16 samples for playback.
	Write(samples []int16) error
	// Flush drops queued audio, used when a response is interrupted.
	Flush() error
}

// Decoder turns a compressed vendor payload (such as ogg/opus) into PCM16.
type Decoder interface {
	Decode(compressed []byte) ([]int16, error)
	Format() string
}

// Encoder turns PCM16 samples into compressed frames for transports that
// publish real media tracks instead of raw sample buffers.
type Encoder interface {
	Encode(samples []int16) ([]byte, error)
	Format() string
	SampleRate() int
}
