package playback

import "time"

// Upstream report statuses for the active item.
const (
	ReportPlaying  = "playing"
	ReportFinished = "finished"
	ReportError    = "error"
)

// StatusReporter sends playback status updates for the active item back
// upstream. Implementations must be asynchronous and never block.
type StatusReporter interface {
	Report(itemID, status string)
}

// Internal bus events. Every mutation of orchestrator state flows
// through exactly one of these, applied by a single goroutine, so a
// transport ended event is fully resolved before the next inbound event
// for the same item is processed.
type (
	cmdStart struct {
		index   int
		payload []byte // nil means fetch via the payload source
	}
	cmdPlay       struct{}
	cmdPause      struct{}
	cmdStop       struct{}
	cmdNext       struct{}
	cmdSeek       struct{ pos time.Duration }
	cmdSetVolume  struct{ v float64 }
	cmdToggleMute struct{}
	cmdSetRepeat  struct{ mode RepeatMode }
	cmdSetShuffle struct{ on bool }

	evLoadTimeout struct{ gen uint64 }

	evPayloadFetched struct {
		gen     uint64
		payload []byte
		err     error
	}
)
