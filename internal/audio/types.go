package audio

import "fmt"

// MaxChannels is the number of channels the level path tracks.
const MaxChannels = 2

// Format describes the stream format reported by a Source.
type Format struct {
	Channels   int // Channel count of the negotiated stream
	SampleRate int // Sample rate in Hz
}

// String returns a short human readable description of the format.
func (f Format) String() string {
	return fmt.Sprintf("%d ch, %d Hz", f.Channels, f.SampleRate)
}

// Buffer is one block of planar audio. Planes[i] holds the samples of channel i in
// full scale [-1, 1]. A nil plane means the data for that channel is unavailable.
type Buffer struct {
	Planes [][]float32
	Frames int
}

// StreamState is the lifecycle state of a capture stream.
type StreamState string

const (
	// StreamUnconnected is the state before the stream is started.
	StreamUnconnected StreamState = "unconnected"
	// StreamStreaming indicates buffers are being delivered.
	StreamStreaming StreamState = "streaming"
	// StreamPaused indicates the stream is stopped but may be restarted.
	StreamPaused StreamState = "paused"
	// StreamError indicates the stream failed.
	StreamError StreamState = "error"
)

// Observer receives events from a Source. OnBuffer runs on the audio thread and must
// not block on anything other than short critical sections.
type Observer interface {
	OnFormatChanged(f Format)
	OnBuffer(b Buffer)
	OnStreamStateChanged(old, state StreamState, err error)
}

// Source produces audio buffers for an Observer.
type Source interface {
	Start(obs Observer) error
	Stop() error
	Close() error
}

// Device represents an available audio input device.
type Device struct {
	// ID is the backend device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
	// Default reports whether this is the backend's default capture device.
	Default bool `json:"default"`
}
