// Package audio implements the playable media handle on top of the beep
// speaker. One source is assigned at a time; loading a new payload
// releases the previous source.
package audio

import (
	"bytes"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/osa030/voicebox/internal/app/playback"
)

const (
	speakerRate     = beep.SampleRate(44100)
	speakerBuffer   = 250 * time.Millisecond
	resampleQuality = 4
	tickInterval    = 250 * time.Millisecond
	minVolume       = 0.01
	volumeBase      = 2
)

var ErrNoSource = errors.New("no audio source loaded")

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(speakerRate, speakerRate.N(speakerBuffer))
	})
	return speakerErr
}

// Controller owns the single playable media handle. Sources that do not
// match the speaker rate are resampled on the fly.
type Controller struct {
	mu       sync.Mutex
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume

	volumeLevel float64
	muted       bool
	attached    bool // Chain is handed to the speaker

	gen     atomic.Int64 // Load generation, guards stale callbacks
	drained atomic.Bool  // Source played to the end

	events chan playback.TransportEvent
	done   chan struct{}
}

// NewController creates a controller and starts its position ticker.
func NewController() *Controller {
	c := &Controller{
		volumeLevel: 1.0,
		events:      make(chan playback.TransportEvent, 16),
		done:        make(chan struct{}),
	}
	go c.tickLoop()
	return c
}

// Events returns the transport event stream.
func (c *Controller) Events() <-chan playback.TransportEvent {
	return c.events
}

// Load decodes an MP3 payload and assigns it as the current source. The
// previous source is released first so rapid consecutive loads never
// leak more than one in-flight handle.
func (c *Controller) Load(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen.Add(1)
	c.releaseLocked()

	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(payload)))
	if err != nil {
		return errors.Wrap(err, "failed to decode audio payload")
	}
	if err := initSpeaker(); err != nil {
		_ = streamer.Close()
		return errors.Wrap(err, "failed to initialize speaker")
	}

	c.streamer = streamer
	c.format = format
	c.buildChainLocked()

	c.emit(playback.TransportEvent{
		Type:     playback.TransportLoaded,
		Duration: format.SampleRate.D(streamer.Len()),
	})
	return nil
}

// Play starts or resumes output. A drained source is rewound and
// re-attached to the speaker.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamer == nil {
		return ErrNoSource
	}

	if !c.attached || c.drained.Load() {
		c.drained.Store(false)
		// Rebuild the chain so the resampler starts from a clean buffer.
		c.buildChainLocked()
		gen := c.gen.Load()
		speaker.Clear()
		speaker.Play(beep.Seq(c.volume, beep.Callback(func() {
			c.sourceFinished(gen)
		})))
		c.attached = true
		return nil
	}

	speaker.Lock()
	c.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

// Pause suspends output, keeping the position.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctrl == nil || !c.attached {
		return
	}
	speaker.Lock()
	c.ctrl.Paused = true
	speaker.Unlock()
}

// Stop halts output and rewinds the source to position 0.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamer == nil {
		return
	}
	c.gen.Add(1)
	speaker.Clear()
	c.attached = false
	c.drained.Store(false)
	_ = c.streamer.Seek(0)
}

// Seek moves the playback position.
func (c *Controller) Seek(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamer == nil {
		return ErrNoSource
	}

	n := c.format.SampleRate.N(pos)
	if n < 0 {
		n = 0
	}
	if n > c.streamer.Len() {
		n = c.streamer.Len()
	}

	speaker.Lock()
	err := c.streamer.Seek(n)
	speaker.Unlock()
	if err != nil {
		return errors.Wrap(err, "seek failed")
	}
	return nil
}

// SetVolume stores the volume level in [0,1] and applies it to the
// handle, respecting the mute gate.
func (c *Controller) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.volumeLevel = v
	c.applyVolumeLocked()
}

// SetMuted gates the applied volume. The stored level is untouched.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.muted = muted
	c.applyVolumeLocked()
}

// Close releases the media handle. The event channel stays open so late
// readers never see a closed-channel panic.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen.Add(1)
	close(c.done)
	speaker.Clear()
	c.releaseLocked()
}

// releaseLocked detaches and closes the current source.
func (c *Controller) releaseLocked() {
	if c.attached {
		speaker.Clear()
		c.attached = false
	}
	c.drained.Store(false)
	if c.streamer != nil {
		_ = c.streamer.Close()
		c.streamer = nil
	}
	c.ctrl = nil
	c.volume = nil
}

// buildChainLocked wires streamer -> resampler -> ctrl -> volume.
func (c *Controller) buildChainLocked() {
	var src beep.Streamer = c.streamer
	if c.format.SampleRate != speakerRate {
		src = beep.Resample(resampleQuality, c.format.SampleRate, speakerRate, c.streamer)
	}
	c.ctrl = &beep.Ctrl{Streamer: src}
	c.volume = &effects.Volume{
		Streamer: c.ctrl,
		Base:     volumeBase,
	}
	c.applyVolumeLocked()
}

// applyVolumeLocked maps the linear [0,1] level onto the exponential
// volume effect. Applied volume is zero while muted.
func (c *Controller) applyVolumeLocked() {
	if c.volume == nil {
		return
	}
	speaker.Lock()
	c.volume.Silent = c.muted || c.volumeLevel < minVolume
	c.volume.Volume = math.Log2(math.Max(c.volumeLevel, minVolume))
	speaker.Unlock()
}

// sourceFinished runs inside the speaker loop, so it must not take the
// controller lock.
func (c *Controller) sourceFinished(gen int64) {
	if c.gen.Load() != gen {
		return
	}
	c.drained.Store(true)
	c.emit(playback.TransportEvent{Type: playback.TransportEnded})
}

// tickLoop emits periodic position updates while output is active.
func (c *Controller) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.streamer == nil || !c.attached || c.drained.Load() {
				c.mu.Unlock()
				continue
			}
			speaker.Lock()
			paused := c.ctrl.Paused
			pos := c.streamer.Position()
			speaker.Unlock()
			rate := c.format.SampleRate
			c.mu.Unlock()

			if !paused {
				c.emit(playback.TransportEvent{
					Type:     playback.TransportTime,
					Position: rate.D(pos),
				})
			}
		}
	}
}

// emit sends without blocking; a full channel drops the event.
func (c *Controller) emit(ev playback.TransportEvent) {
	select {
	case c.events <- ev:
	default:
	}
}
