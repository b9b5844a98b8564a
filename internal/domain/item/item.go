// Package item provides the queued voice notification domain entity.
package item

// Status represents the lifecycle status of a queued item.
type Status int

const (
	StatusWaiting   Status = iota // Ready to be played
	StatusPlaying                 // Selected for playback
	StatusCompleted               // Finished playing naturally
	StatusError                   // Decode or network failure
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusPlaying:
		return "playing"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Metadata carries optional voice synthesis attributes delivered with a
// notification.
type Metadata struct {
	TextContent string // Full text the voice was synthesized from
	Emotion     string // Emotion tag, if any
	Language    string // Language code, if any
	VoiceCloned bool   // Whether a cloned voice was used
}

// QueuedItem represents one voice notification in the playback queue.
type QueuedItem struct {
	ID              string   // Server-assigned unique ID
	Title           string   // Display title derived from the text content
	DurationSeconds float64  // Known duration in seconds, 0 when unknown
	Status          Status   // Lifecycle status
	Metadata        Metadata // Synthesis attributes
}

const (
	titlePrefixRunes = 40
	fallbackTitle    = "Voice notification"
)

// TitleFromText derives a display title by truncating the text content
// to a fixed prefix, marking the truncation with an ellipsis. Empty text
// falls back to a generic label.
func TitleFromText(text string) string {
	if text == "" {
		return fallbackTitle
	}
	runes := []rune(text)
	if len(runes) <= titlePrefixRunes {
		return text
	}
	return string(runes[:titlePrefixRunes]) + "..."
}

// New creates a QueuedItem in the Waiting state.
func New(id string, meta Metadata) QueuedItem {
	return QueuedItem{
		ID:       id,
		Title:    TitleFromText(meta.TextContent),
		Status:   StatusWaiting,
		Metadata: meta,
	}
}
