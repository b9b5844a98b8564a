// Package reporter sends playback status updates for the active item
// back over the duplex channel. Delivery is best-effort: reports never
// fail the caller and never block a transport transition.
package reporter

import (
	"time"

	zlog "github.com/rs/zerolog/log"
)

// EventPlaybackStatus is the outbound channel event name.
const EventPlaybackStatus = "audio_playback_status"

const sendTimeout = 500 * time.Millisecond

// Emitter sends an envelope over the duplex channel.
type Emitter interface {
	Emit(event string, data map[string]any) error
}

// Reporter is a fire-and-forget status reporter.
type Reporter struct {
	emitter Emitter
}

// New creates a reporter over the given emitter.
func New(emitter Emitter) *Reporter {
	return &Reporter{emitter: emitter}
}

// Report dispatches a status update asynchronously. Failures are logged
// and otherwise ignored; the channel client reconnects on its own.
func (r *Reporter) Report(itemID, status string) {
	go func() {
		done := make(chan error, 1)
		go func() {
			done <- r.emitter.Emit(EventPlaybackStatus, map[string]any{
				"audio_id": itemID,
				"status":   status,
			})
		}()

		select {
		case err := <-done:
			if err != nil {
				zlog.Warn().Err(err).Str("audio_id", itemID).Str("status", status).
					Msg("reporter: status report failed")
			}
		case <-time.After(sendTimeout):
			zlog.Warn().Str("audio_id", itemID).Str("status", status).
				Msg("reporter: status report timed out")
		}
	}()
}
