// Package playback provides the orchestrator state machine that ties the
// queue store and the transport controller together.
package playback

import (
	"time"

	"github.com/osa030/voicebox/internal/domain/item"
)

// State represents the orchestrator state.
type State int

const (
	StateIdle    State = iota // Nothing selected
	StateLoading              // Payload is being decoded and assigned
	StatePlaying              // Transport is playing
	StatePaused               // Transport is paused
	StateEnded                // Queue exhausted or current item failed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// RepeatMode controls what happens when a track ends naturally.
type RepeatMode int

const (
	RepeatNone RepeatMode = iota // Advance linearly, stop at the end
	RepeatOne                    // Restart the same item at position 0
	RepeatAll                    // Wrap around to index 0 when exhausted
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatNone:
		return "none"
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "unknown"
	}
}

// Snapshot is the single source of truth for the transport UI. Muting
// never alters the stored volume; the gated value is applied at the
// media handle only.
type Snapshot struct {
	State    State
	Position time.Duration
	Duration time.Duration
	Volume   float64 // Stored volume in [0,1], independent of mute
	Muted    bool
	Current  *item.QueuedItem // Non-nil whenever State is Playing
	Repeat   RepeatMode
	Shuffle  bool
}

// IsPlaying reports whether playback is active.
func (s Snapshot) IsPlaying() bool { return s.State == StatePlaying }

// IsPaused reports whether playback is paused.
func (s Snapshot) IsPaused() bool { return s.State == StatePaused }
