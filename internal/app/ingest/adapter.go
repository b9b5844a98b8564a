// Package ingest normalizes inbound channel events and the periodic
// status poll into queue store mutations. Raw wire payloads are
// validated and coerced here; the rest of the system never sees untyped
// data.
package ingest

import (
	"encoding/base64"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/queue"
	"github.com/osa030/voicebox/internal/domain/item"
	"github.com/osa030/voicebox/internal/infra/channel"
)

// Inbound event names on the duplex channel.
const (
	EventAudioStream       = "audio_stream"
	EventAudioNotification = "audio_notification"
	EventAudioStatusUpdate = "audio_status_update"
)

// Lifecycle notification types.
const (
	notificationCompleted = "tts_completed"
	notificationError     = "tts_error"
)

// Starter is the slice of the orchestrator the adapter needs for the
// first-item fast path.
type Starter interface {
	Active() bool
	Start(index int, payload []byte)
}

// PayloadCache retains pushed payloads for later playback by id.
type PayloadCache interface {
	Put(id string, payload []byte)
}

// Config holds adapter configuration.
type Config struct {
	AutoPlay bool
}

// Adapter maps the three inbound event kinds onto the queue store.
type Adapter struct {
	store    *queue.Store
	starter  Starter
	cache    PayloadCache
	validate *validator.Validate
	autoPlay atomic.Bool
}

// NewAdapter creates an ingestion adapter.
func NewAdapter(store *queue.Store, starter Starter, cache PayloadCache, cfg Config) *Adapter {
	a := &Adapter{
		store:    store,
		starter:  starter,
		cache:    cache,
		validate: validator.New(),
	}
	a.autoPlay.Store(cfg.AutoPlay)
	return a
}

// Bind subscribes the adapter to the channel client. Must be called
// before the client starts reading.
func (a *Adapter) Bind(c *channel.Client) {
	c.On(EventAudioStream, a.handleAudioStream)
	c.On(EventAudioNotification, a.handleNotification)
	c.On(EventAudioStatusUpdate, a.handleStatusUpdate)
}

// SetAutoPlay toggles the first-item fast path.
func (a *Adapter) SetAutoPlay(on bool) {
	a.autoPlay.Store(on)
}

// streamPayload is the wire shape of a pushed audio notification.
type streamPayload struct {
	Metadata struct {
		AudioID       string `mapstructure:"audio_id" validate:"required"`
		TextContent   string `mapstructure:"text_content"`
		Emotion       string `mapstructure:"emotion"`
		Language      string `mapstructure:"language"`
		StreamingMode bool   `mapstructure:"streaming_mode"`
		VoiceCloned   bool   `mapstructure:"voice_cloned"`
	} `mapstructure:"metadata"`
	AudioData string `mapstructure:"audio_data" validate:"required"`
}

// notificationPayload is the wire shape of a lifecycle notification.
type notificationPayload struct {
	AudioID string `mapstructure:"audio_id" validate:"required"`
	Type    string `mapstructure:"type" validate:"required"`
}

// statusPayload is the wire shape of an external status update.
type statusPayload struct {
	AudioID string `mapstructure:"audio_id" validate:"required"`
	Status  string `mapstructure:"status" validate:"required"`
}

// handleAudioStream appends a Waiting item for a pushed payload. The
// very first item starts playing immediately when auto-play is on and
// nothing is active, instead of waiting for a queue tick.
func (a *Adapter) handleAudioStream(data map[string]any) {
	var p streamPayload
	if err := a.coerce(data, &p); err != nil {
		zlog.Warn().Err(err).Msg("ingest: dropping malformed audio_stream event")
		return
	}

	payload, err := base64.StdEncoding.DecodeString(p.AudioData)
	if err != nil {
		zlog.Warn().Err(err).Str("audio_id", p.Metadata.AudioID).
			Msg("ingest: dropping audio_stream with invalid base64 payload")
		return
	}

	if a.store.IndexOf(p.Metadata.AudioID) >= 0 {
		zlog.Debug().Str("audio_id", p.Metadata.AudioID).Msg("ingest: duplicate audio_stream ignored")
		return
	}

	it := item.New(p.Metadata.AudioID, item.Metadata{
		TextContent: p.Metadata.TextContent,
		Emotion:     p.Metadata.Emotion,
		Language:    p.Metadata.Language,
		VoiceCloned: p.Metadata.VoiceCloned,
	})

	index := a.store.Append(it)
	a.cache.Put(it.ID, payload)
	zlog.Info().Str("audio_id", it.ID).Str("title", it.Title).Int("index", index).
		Msg("ingest: queued voice notification")

	if index == 0 && a.autoPlay.Load() && !a.starter.Active() {
		a.starter.Start(index, payload)
	}
}

// handleNotification resolves a pending item to Waiting on completion
// and marks it Error on synthesis failure. Other types are ignored.
func (a *Adapter) handleNotification(data map[string]any) {
	var p notificationPayload
	if err := a.coerce(data, &p); err != nil {
		zlog.Warn().Err(err).Msg("ingest: dropping malformed audio_notification event")
		return
	}

	switch p.Type {
	case notificationCompleted:
		a.store.UpdateStatus(p.AudioID, item.StatusWaiting)
	case notificationError:
		a.store.UpdateStatus(p.AudioID, item.StatusError)
	}
}

// handleStatusUpdate reconciles status originating from another consumer
// of the same upstream feed. Unknown ids are a no-op.
func (a *Adapter) handleStatusUpdate(data map[string]any) {
	var p statusPayload
	if err := a.coerce(data, &p); err != nil {
		zlog.Warn().Err(err).Msg("ingest: dropping malformed audio_status_update event")
		return
	}

	var status item.Status
	switch p.Status {
	case "playing":
		status = item.StatusPlaying
	case "finished":
		status = item.StatusCompleted
	case "error":
		status = item.StatusError
	default:
		return
	}
	if !a.store.UpdateStatus(p.AudioID, status) {
		zlog.Debug().Str("audio_id", p.AudioID).Msg("ingest: status update for unknown item ignored")
	}
}

// coerce decodes an untyped wire payload into a typed struct and
// validates it.
func (a *Adapter) coerce(data map[string]any, out any) error {
	if data == nil {
		return errors.New("empty payload")
	}
	if err := mapstructure.Decode(data, out); err != nil {
		return errors.Wrap(err, "payload decode failed")
	}
	if err := a.validate.Struct(out); err != nil {
		return errors.Wrap(err, "payload validation failed")
	}
	return nil
}
