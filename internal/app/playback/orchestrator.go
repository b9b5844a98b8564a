package playback

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/queue"
	"github.com/osa030/voicebox/internal/domain/item"
)

// PayloadSource resolves the raw audio bytes for an item, either from
// the pushed payload cache or by fetching on demand by id.
type PayloadSource interface {
	Payload(ctx context.Context, id string) ([]byte, error)
}

// Config holds orchestrator configuration.
type Config struct {
	InitialVolume float64       // Stored volume at startup, [0,1]
	LoadTimeout   time.Duration // 0 disables the load watchdog
}

// Orchestrator decides what plays next, applies repeat/shuffle policy
// and reports playback transitions upstream. All state mutation happens
// on a single goroutine consuming one internal event bus, so event
// ordering is total: a transport ended event is fully resolved before
// any subsequent event is applied.
type Orchestrator struct {
	mu        sync.RWMutex
	queue     *queue.Store
	transport Transport
	reporter  StatusReporter
	source    PayloadSource

	state    State
	current  *item.QueuedItem
	position time.Duration
	duration time.Duration
	volume   float64
	muted    bool
	repeat   RepeatMode
	shuffle  bool

	loadGen     uint64
	loadTimeout time.Duration
	randFn      func(n int) int
	onFailure   func(title string, err error)

	bus  chan any
	stop chan struct{} // closed when Run returns
	ctx  context.Context
}

// New creates an orchestrator in the Idle state.
func New(store *queue.Store, transport Transport, reporter StatusReporter, source PayloadSource, cfg Config) *Orchestrator {
	vol := clampVolume(cfg.InitialVolume)
	o := &Orchestrator{
		queue:       store,
		transport:   transport,
		reporter:    reporter,
		source:      source,
		state:       StateIdle,
		volume:      vol,
		loadTimeout: cfg.LoadTimeout,
		randFn:      rand.Intn,
		bus:         make(chan any, 64),
		stop:        make(chan struct{}),
		ctx:         context.Background(),
	}
	transport.SetVolume(vol)
	return o
}

// OnFailure registers a callback for user-visible playback failures.
// The callback runs on its own goroutine and must not block forever.
func (o *Orchestrator) OnFailure(fn func(title string, err error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onFailure = fn
}

// Run consumes the event bus and the transport event stream until the
// context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()
	defer close(o.stop)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.bus:
			o.apply(ev)
		case tev := <-o.transport.Events():
			o.applyTransport(tev)
		}
	}
}

// Start begins playback of the item at the given queue index. A nil
// payload is resolved through the payload source.
func (o *Orchestrator) Start(index int, payload []byte) {
	o.post(cmdStart{index: index, payload: payload})
}

// Play resumes paused playback, or starts the next queued item when idle.
func (o *Orchestrator) Play() { o.post(cmdPlay{}) }

// Pause suspends playback. No-op unless playing.
func (o *Orchestrator) Pause() { o.post(cmdPause{}) }

// Stop halts playback, resets the position and clears the current track.
func (o *Orchestrator) Stop() { o.post(cmdStop{}) }

// Next advances to the next item under the current repeat/shuffle policy.
func (o *Orchestrator) Next() { o.post(cmdNext{}) }

// Seek moves the playback position of the current track.
func (o *Orchestrator) Seek(pos time.Duration) { o.post(cmdSeek{pos: pos}) }

// SetVolume stores a new volume, clamped to [0,1].
func (o *Orchestrator) SetVolume(v float64) { o.post(cmdSetVolume{v: v}) }

// ToggleMute flips the mute gate without altering the stored volume.
func (o *Orchestrator) ToggleMute() { o.post(cmdToggleMute{}) }

// SetRepeat sets the repeat mode.
func (o *Orchestrator) SetRepeat(mode RepeatMode) { o.post(cmdSetRepeat{mode: mode}) }

// SetShuffle toggles shuffle selection.
func (o *Orchestrator) SetShuffle(on bool) { o.post(cmdSetShuffle{on: on}) }

// Active reports whether a track is currently selected (loading, playing
// or paused).
func (o *Orchestrator) Active() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current != nil
}

// Snapshot returns a copy of the playback state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := Snapshot{
		State:    o.state,
		Position: o.position,
		Duration: o.duration,
		Volume:   o.volume,
		Muted:    o.muted,
		Repeat:   o.repeat,
		Shuffle:  o.shuffle,
	}
	if o.current != nil {
		cur := *o.current
		snap.Current = &cur
	}
	return snap
}

// post is safe from any goroutine; o.stop is immutable so no lock is
// needed here.
func (o *Orchestrator) post(ev any) {
	select {
	case o.bus <- ev:
	case <-o.stop:
	}
}

// apply is the single reducer for bus events.
func (o *Orchestrator) apply(ev any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch e := ev.(type) {
	case cmdStart:
		o.startLocked(e.index, e.payload)
	case cmdPlay:
		o.playLocked()
	case cmdPause:
		o.pauseLocked()
	case cmdStop:
		o.stopLocked()
	case cmdNext:
		o.nextLocked()
	case cmdSeek:
		o.seekLocked(e.pos)
	case cmdSetVolume:
		o.volume = clampVolume(e.v)
		o.transport.SetVolume(o.volume)
	case cmdToggleMute:
		o.muted = !o.muted
		o.transport.SetMuted(o.muted)
	case cmdSetRepeat:
		o.repeat = e.mode
	case cmdSetShuffle:
		o.shuffle = e.on
	case evLoadTimeout:
		if e.gen == o.loadGen && o.state == StateLoading {
			o.failLocked(errors.Mark(errors.New("decode stalled past the load timeout"), ErrDecodeFailure))
		}
	case evPayloadFetched:
		if e.gen != o.loadGen || o.state != StateLoading {
			return // superseded by a newer start, stop or failure
		}
		if e.err != nil {
			o.failLocked(errors.Mark(e.err, ErrNetworkFailure))
			return
		}
		o.loadLocked(e.payload)
	}
}

func (o *Orchestrator) applyTransport(ev TransportEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev.Type {
	case TransportLoaded:
		o.loadedLocked(ev.Duration)
	case TransportTime:
		if o.state == StatePlaying {
			o.position = ev.Position
		}
	case TransportEnded:
		o.endedLocked()
	case TransportError:
		if o.current == nil {
			zlog.Warn().Err(ev.Err).Msg("playback: transport error with no current track")
			return
		}
		o.failLocked(ev.Err)
	}
}

// startLocked transitions Idle -> Loading for the item at index.
func (o *Orchestrator) startLocked(index int, payload []byte) {
	it, ok := o.queue.Item(index)
	if !ok {
		zlog.Warn().Int("index", index).Msg("playback: start requested for missing queue index")
		return
	}

	// An interrupted track goes back to waiting so it can be re-selected.
	if o.current != nil && o.current.ID != it.ID && o.current.Status == item.StatusPlaying {
		o.queue.UpdateStatus(o.current.ID, item.StatusWaiting)
	}

	o.loadGen++
	gen := o.loadGen
	o.state = StateLoading
	_ = o.queue.SetCurrentIndex(index)
	o.queue.UpdateStatus(it.ID, item.StatusPlaying)
	it.Status = item.StatusPlaying
	o.current = &it
	o.position = 0
	o.duration = 0

	if o.loadTimeout > 0 {
		time.AfterFunc(o.loadTimeout, func() {
			o.post(evLoadTimeout{gen: gen})
		})
	}

	if payload != nil {
		o.loadLocked(payload)
		return
	}

	// Resolve the payload off the event goroutine so commands and
	// transport events keep flowing during the fetch. The result comes
	// back as a bus event guarded by the load generation.
	ctx := o.ctx
	go func() {
		data, err := o.source.Payload(ctx, it.ID)
		o.post(evPayloadFetched{gen: gen, payload: data, err: err})
	}()
}

// loadLocked hands a resolved payload to the transport.
func (o *Orchestrator) loadLocked(payload []byte) {
	if err := o.transport.Load(payload); err != nil {
		o.failLocked(errors.Mark(err, ErrDecodeFailure))
	}
}

// loadedLocked transitions Loading -> Playing.
func (o *Orchestrator) loadedLocked(d time.Duration) {
	if o.state != StateLoading || o.current == nil {
		return
	}

	o.loadGen++ // disarm the load watchdog
	o.duration = d
	o.current.DurationSeconds = d.Seconds()
	o.queue.SetDuration(o.current.ID, d.Seconds())

	if err := o.transport.Play(); err != nil {
		o.failLocked(errors.Mark(err, ErrPlaybackRejected))
		return
	}
	o.state = StatePlaying
	o.reporter.Report(o.current.ID, ReportPlaying)
}

func (o *Orchestrator) playLocked() {
	switch o.state {
	case StatePaused:
		if err := o.transport.Play(); err != nil {
			o.failLocked(errors.Mark(err, ErrPlaybackRejected))
			return
		}
		o.state = StatePlaying
	case StateIdle, StateEnded:
		if next := o.queue.CurrentIndex() + 1; next < o.queue.Len() {
			o.startLocked(next, nil)
		}
	}
}

func (o *Orchestrator) pauseLocked() {
	if o.state != StatePlaying {
		return
	}
	o.transport.Pause()
	o.state = StatePaused
}

func (o *Orchestrator) stopLocked() {
	if o.state == StateIdle {
		return
	}
	o.loadGen++
	o.transport.Stop()
	if o.current != nil && o.current.Status == item.StatusPlaying {
		o.queue.UpdateStatus(o.current.ID, item.StatusWaiting)
	}
	o.current = nil
	o.state = StateIdle
	o.position = 0
	o.duration = 0
}

func (o *Orchestrator) nextLocked() {
	if idx, ok := o.nextIndexLocked(); ok {
		o.startLocked(idx, nil)
	}
}

func (o *Orchestrator) seekLocked(pos time.Duration) {
	if o.current == nil {
		return
	}
	if pos < 0 {
		pos = 0
	}
	if o.duration > 0 && pos > o.duration {
		pos = o.duration
	}
	if err := o.transport.Seek(pos); err != nil {
		zlog.Warn().Err(err).Msg("playback: seek failed")
		return
	}
	o.position = pos
}

// endedLocked handles natural track end: report finished, then apply the
// repeat/advance policy. Errors never advance the queue; this does.
func (o *Orchestrator) endedLocked() {
	if o.current == nil || o.state != StatePlaying {
		return
	}

	ended := *o.current
	o.queue.UpdateStatus(ended.ID, item.StatusCompleted)
	o.current.Status = item.StatusCompleted
	o.reporter.Report(ended.ID, ReportFinished)

	if o.repeat == RepeatOne {
		o.restartCurrentLocked(ended.ID)
		return
	}

	if idx, ok := o.nextIndexLocked(); ok {
		o.state = StateIdle
		o.startLocked(idx, nil)
		return
	}

	// Queue exhausted.
	o.state = StateEnded
	o.current = nil
	o.position = 0
}

// restartCurrentLocked rewinds the current source and plays it again.
func (o *Orchestrator) restartCurrentLocked(id string) {
	if err := o.transport.Seek(0); err != nil {
		o.failLocked(errors.Mark(err, ErrDecodeFailure))
		return
	}
	if err := o.transport.Play(); err != nil {
		o.failLocked(errors.Mark(err, ErrPlaybackRejected))
		return
	}
	o.position = 0
	o.state = StatePlaying
	o.queue.UpdateStatus(id, item.StatusPlaying)
	o.current.Status = item.StatusPlaying
	o.reporter.Report(id, ReportPlaying)
}

// nextIndexLocked selects the next index under the advance policy:
// uniform random over the whole queue when shuffling (no
// repeat-avoidance), otherwise linear with an optional wrap for
// RepeatAll.
func (o *Orchestrator) nextIndexLocked() (int, bool) {
	n := o.queue.Len()
	if n == 0 {
		return 0, false
	}
	if o.shuffle {
		return o.randFn(n), true
	}
	if ci := o.queue.CurrentIndex(); ci+1 < n {
		return ci + 1, true
	}
	if o.repeat == RepeatAll {
		return 0, true
	}
	return 0, false
}

// failLocked converts any failure into an Error item status, an upstream
// error report and a user-visible notification. The queue is never
// advanced automatically on error.
func (o *Orchestrator) failLocked(err error) {
	o.loadGen++
	failed := o.current
	o.current = nil
	o.state = StateEnded
	o.position = 0
	o.transport.Stop()

	title := ""
	if failed != nil {
		title = failed.Title
		o.queue.UpdateStatus(failed.ID, item.StatusError)
		o.reporter.Report(failed.ID, ReportError)
	}

	zlog.Warn().Err(err).Str("title", title).Msg("playback: item failed")
	if o.onFailure != nil {
		go o.onFailure(title, err)
	}
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
