// Package engine provides the composition root of the playback engine.
// The engine is an explicitly constructed, dependency-injected service
// whose lifecycle is tied to the owning view: Start on mount, Dispose on
// unmount. No package-level singletons.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/ingest"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/queue"
	"github.com/osa030/voicebox/internal/app/reporter"
	"github.com/osa030/voicebox/internal/domain/item"
	"github.com/osa030/voicebox/internal/infra/channel"
	"github.com/osa030/voicebox/internal/infra/config"
	"github.com/osa030/voicebox/internal/infra/streamapi"
)

const fetchTimeout = 10 * time.Second

// Option customizes engine construction.
type Option func(*options)

type options struct {
	transport playback.Transport
}

// WithTransport injects a transport implementation. Used by the default
// wiring in cmd/player and by tests.
func WithTransport(t playback.Transport) Option {
	return func(o *options) { o.transport = t }
}

// Engine owns every component of the playback core and the per-item
// payload cache. Pushed payloads are retained by id so auto-advance can
// play later items without refetching; direct selection of an item whose
// payload was never pushed falls back to an on-demand fetch.
type Engine struct {
	cfg       *config.Config
	store     *queue.Store
	orch      *playback.Orchestrator
	transport playback.Transport
	channel   *channel.Client
	api       *streamapi.Client
	adapter   *ingest.Adapter
	poller    *ingest.Poller

	payloadMu sync.RWMutex
	payloads  map[string][]byte

	connected   atomic.Bool
	cancel      context.CancelFunc
	disposeOnce sync.Once
}

// New wires the engine together. The transport must be provided; the
// engine itself stays free of platform audio dependencies.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		return nil, errors.New("engine requires a transport")
	}

	api, err := streamapi.New(streamapi.Config{
		BaseURL: cfg.Server.APIBase,
		Token:   cfg.Server.Token,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create streaming API client")
	}

	ch := channel.New(channel.Config{
		URL:   cfg.Server.ChannelURL,
		Token: cfg.Server.Token,
	})

	e := &Engine{
		cfg:       cfg,
		store:     queue.NewStore(),
		transport: o.transport,
		channel:   ch,
		api:       api,
		payloads:  map[string][]byte{},
	}

	e.orch = playback.New(e.store, o.transport, reporter.New(ch), e, playback.Config{
		InitialVolume: cfg.Playback.Volume,
		LoadTimeout:   cfg.Playback.LoadTimeout(),
	})

	e.adapter = ingest.NewAdapter(e.store, e.orch, e, ingest.Config{
		AutoPlay: cfg.Playback.AutoPlayEnabled(),
	})
	e.adapter.Bind(ch)

	e.poller = ingest.NewPoller(api, cfg.Status.PollInterval())

	ch.OnConnectivity(e.setConnected)

	return e, nil
}

// setConnected tracks duplex channel connectivity for the badge. A
// disconnect is a channel failure: logged, never fatal, and the queue
// stays playable through on-demand fetch.
func (e *Engine) setConnected(connected bool) {
	e.connected.Store(connected)
	if connected {
		zlog.Info().Msg("engine: channel connected")
		return
	}
	zlog.Warn().Err(playback.ErrChannelFailure).
		Msg("engine: channel disconnected, queued items stay playable via fetch")
}

// OnFailure registers a callback for user-visible playback failures.
func (e *Engine) OnFailure(fn func(title string, err error)) {
	e.orch.OnFailure(fn)
}

// Start launches the channel client, the orchestrator loop and the
// status poller.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.orch.Run(ctx)
	go e.poller.Run(ctx)
	e.channel.Start(ctx)
}

// Dispose stops all goroutines and releases the media handle.
func (e *Engine) Dispose() {
	e.disposeOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.channel.Close()
		e.transport.Close()
	})
}

// Put caches a pushed payload by item id. Implements ingest.PayloadCache.
func (e *Engine) Put(id string, payload []byte) {
	e.payloadMu.Lock()
	defer e.payloadMu.Unlock()
	e.payloads[id] = payload
}

// Payload resolves audio bytes from the cache, falling back to an
// on-demand fetch by id. Implements playback.PayloadSource.
func (e *Engine) Payload(ctx context.Context, id string) ([]byte, error) {
	e.payloadMu.RLock()
	payload, ok := e.payloads[id]
	e.payloadMu.RUnlock()
	if ok {
		return payload, nil
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	data, err := e.api.FetchAudio(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "on-demand fetch of item %s failed", id)
	}
	return data, nil
}

// Transport and queue commands, delegated to the orchestrator.

func (e *Engine) Play() { e.orch.Play() }

func (e *Engine) Pause() { e.orch.Pause() }

func (e *Engine) Stop() { e.orch.Stop() }

func (e *Engine) Next() { e.orch.Next() }

func (e *Engine) Seek(pos time.Duration) { e.orch.Seek(pos) }

func (e *Engine) SetVolume(v float64) { e.orch.SetVolume(v) }

func (e *Engine) ToggleMute() { e.orch.ToggleMute() }

func (e *Engine) SetRepeat(m playback.RepeatMode) { e.orch.SetRepeat(m) }

func (e *Engine) SetShuffle(on bool) { e.orch.SetShuffle(on) }

func (e *Engine) SetAutoPlay(on bool) { e.adapter.SetAutoPlay(on) }

// PlayItem starts the queue item at the given index directly, using the
// cached payload when the notification carried one.
func (e *Engine) PlayItem(index int) {
	it, ok := e.store.Item(index)
	if !ok {
		zlog.Warn().Int("index", index).Msg("engine: play requested for missing queue index")
		return
	}

	e.payloadMu.RLock()
	payload := e.payloads[it.ID]
	e.payloadMu.RUnlock()
	e.orch.Start(index, payload)
}

// SetVisible gates status polling on host view visibility.
func (e *Engine) SetVisible(visible bool) {
	e.poller.SetVisible(visible)
}

// Snapshot returns the current playback state.
func (e *Engine) Snapshot() playback.Snapshot {
	return e.orch.Snapshot()
}

// Items returns a snapshot of the queue.
func (e *Engine) Items() []item.QueuedItem {
	return e.store.Items()
}

// StreamingStatus returns the last polled aggregate status.
func (e *Engine) StreamingStatus() streamapi.StreamingStatus {
	return e.poller.Status()
}

// Connected reports duplex channel connectivity, for the badge.
func (e *Engine) Connected() bool {
	return e.connected.Load()
}
