package playback

import "github.com/cockroachdb/errors"

// Failure taxonomy. All are caught at the orchestrator boundary, turned
// into an Error status on the affected item, reported upstream and
// surfaced to the user. None are retried automatically.
var (
	// ErrDecodeFailure marks payloads that could not be turned into
	// playable audio.
	ErrDecodeFailure = errors.New("audio payload could not be decoded")
	// ErrPlaybackRejected marks a platform refusal to start playback.
	ErrPlaybackRejected = errors.New("playback was rejected by the audio platform")
	// ErrNetworkFailure marks a failed on-demand fetch of an item by id.
	ErrNetworkFailure = errors.New("audio fetch failed")
	// ErrChannelFailure marks a disconnected duplex channel. Reconnection
	// is handled by the channel client; queued items stay playable via
	// on-demand fetch.
	ErrChannelFailure = errors.New("realtime channel disconnected")
)
