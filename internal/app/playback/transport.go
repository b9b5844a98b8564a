package playback

import "time"

// TransportEventType identifies an event surfaced by the media handle.
type TransportEventType int

const (
	TransportLoaded TransportEventType = iota // Metadata decoded, duration known
	TransportTime                             // Periodic position update
	TransportEnded                            // Source played to the end
	TransportError                            // Decode or output failure
)

// String returns the string representation of the event type.
func (t TransportEventType) String() string {
	switch t {
	case TransportLoaded:
		return "loaded_metadata"
	case TransportTime:
		return "time_update"
	case TransportEnded:
		return "ended"
	case TransportError:
		return "error"
	default:
		return "unknown"
	}
}

// TransportEvent is an event emitted by a Transport implementation.
type TransportEvent struct {
	Type     TransportEventType
	Duration time.Duration // Set for TransportLoaded
	Position time.Duration // Set for TransportTime
	Err      error         // Set for TransportError
}

// Transport is the playable media handle. Exactly one source is assigned
// at a time; Load replaces and releases any prior source. Immediate
// failures are returned, asynchronous ones arrive on Events.
type Transport interface {
	// Load decodes a binary audio payload and assigns it as the current
	// source, releasing the previous one. Emits TransportLoaded with the
	// decoded duration on success.
	Load(payload []byte) error
	// Play starts or resumes output.
	Play() error
	// Pause suspends output, keeping the position.
	Pause()
	// Stop halts output and rewinds the source to position 0.
	Stop()
	// Seek moves the playback position.
	Seek(pos time.Duration) error
	// SetVolume sets the stored volume in [0,1].
	SetVolume(v float64)
	// SetMuted gates the applied volume without altering the stored one.
	SetMuted(muted bool)
	// Events returns the transport event stream.
	Events() <-chan TransportEvent
	// Close releases the media handle.
	Close()
}
