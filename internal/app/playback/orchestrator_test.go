package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicebox/internal/app/queue"
	"github.com/osa030/voicebox/internal/domain/item"
)

// fakeTransport records transport calls and lets tests inject failures.
type fakeTransport struct {
	events  chan TransportEvent
	loads   [][]byte
	plays   int
	pauses  int
	stops   int
	seeks   []time.Duration
	volume  float64
	muted   bool
	loadErr error
	playErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan TransportEvent, 16)}
}

func (f *fakeTransport) Load(payload []byte) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loads = append(f.loads, payload)
	return nil
}

func (f *fakeTransport) Play() error {
	if f.playErr != nil {
		return f.playErr
	}
	f.plays++
	return nil
}

func (f *fakeTransport) Pause() { f.pauses++ }

func (f *fakeTransport) Stop() { f.stops++ }

func (f *fakeTransport) Seek(pos time.Duration) error {
	f.seeks = append(f.seeks, pos)
	return nil
}

func (f *fakeTransport) SetVolume(v float64) { f.volume = v }

func (f *fakeTransport) SetMuted(m bool) { f.muted = m }

func (f *fakeTransport) Events() <-chan TransportEvent { return f.events }

func (f *fakeTransport) Close() {}

// fakeReporter records reports synchronously.
type fakeReporter struct {
	reports []string // "id:status"
}

func (f *fakeReporter) Report(itemID, status string) {
	f.reports = append(f.reports, itemID+":"+status)
}

// fakeSource serves payloads from a map.
type fakeSource struct {
	payloads map[string][]byte
	err      error
}

func (f *fakeSource) Payload(_ context.Context, id string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.payloads[id]; ok {
		return p, nil
	}
	return nil, errors.Newf("no payload for %s", id)
}

type fixture struct {
	store     *queue.Store
	transport *fakeTransport
	reporter  *fakeReporter
	source    *fakeSource
	orch      *Orchestrator
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()

	f := &fixture{
		store:     queue.NewStore(),
		transport: newFakeTransport(),
		reporter:  &fakeReporter{},
		source:    &fakeSource{payloads: map[string][]byte{}},
	}
	for _, id := range ids {
		f.store.Append(item.New(id, item.Metadata{TextContent: "text " + id}))
		f.source.payloads[id] = []byte("audio-" + id)
	}
	f.orch = New(f.store, f.transport, f.reporter, f.source, Config{InitialVolume: 0.7})
	return f
}

// pumpOne applies the next bus event, typically a payload fetch result.
func (f *fixture) pumpOne(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.orch.bus:
		f.orch.apply(ev)
	case <-time.After(time.Second):
		t.Fatal("no bus event within deadline")
	}
}

// startPlaying drives the item at index through Loading into Playing.
func (f *fixture) startPlaying(t *testing.T, index int) {
	t.Helper()
	f.orch.apply(cmdStart{index: index})
	f.pumpOne(t) // payload fetch result
	require.Equal(t, StateLoading, f.orch.Snapshot().State)
	f.orch.applyTransport(TransportEvent{Type: TransportLoaded, Duration: 5 * time.Second})
	require.Equal(t, StatePlaying, f.orch.Snapshot().State)
}

func TestStartTransitionsIdleLoadingPlaying(t *testing.T) {
	f := newFixture(t, "x")

	f.orch.apply(cmdStart{index: 0, payload: []byte("pushed")})
	snap := f.orch.Snapshot()
	assert.Equal(t, StateLoading, snap.State)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "x", snap.Current.ID)
	assert.Equal(t, [][]byte{[]byte("pushed")}, f.transport.loads)
	assert.Equal(t, 0, f.store.CurrentIndex())

	f.orch.applyTransport(TransportEvent{Type: TransportLoaded, Duration: 3 * time.Second})
	snap = f.orch.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.True(t, snap.IsPlaying())
	assert.Equal(t, 3*time.Second, snap.Duration)
	assert.Equal(t, []string{"x:playing"}, f.reporter.reports)

	it, _ := f.store.Item(0)
	assert.Equal(t, item.StatusPlaying, it.Status)
	assert.Equal(t, 3.0, it.DurationSeconds)
}

func TestIsPlayingImpliesCurrentTrack(t *testing.T) {
	f := newFixture(t, "x")
	f.startPlaying(t, 0)

	snap := f.orch.Snapshot()
	assert.True(t, snap.IsPlaying())
	assert.NotNil(t, snap.Current)
}

func TestStartFetchesPayloadFromSource(t *testing.T) {
	f := newFixture(t, "x")

	f.orch.apply(cmdStart{index: 0})
	f.pumpOne(t)
	assert.Equal(t, [][]byte{[]byte("audio-x")}, f.transport.loads)
}

func TestPlaybackRejectedFailsItem(t *testing.T) {
	f := newFixture(t, "x")
	f.transport.playErr = errors.New("autoplay blocked")

	f.orch.apply(cmdStart{index: 0})
	f.pumpOne(t)
	f.orch.applyTransport(TransportEvent{Type: TransportLoaded, Duration: time.Second})

	snap := f.orch.Snapshot()
	assert.Equal(t, StateEnded, snap.State)
	assert.Nil(t, snap.Current)

	it, _ := f.store.Item(0)
	assert.Equal(t, item.StatusError, it.Status)
	assert.Contains(t, f.reporter.reports, "x:error")
}

func TestNetworkFailureFailsItem(t *testing.T) {
	f := newFixture(t, "x")
	f.source.err = errors.New("connection refused")

	f.orch.apply(cmdStart{index: 0})
	f.pumpOne(t)

	snap := f.orch.Snapshot()
	assert.Equal(t, StateEnded, snap.State)
	it, _ := f.store.Item(0)
	assert.Equal(t, item.StatusError, it.Status)
	assert.Equal(t, []string{"x:error"}, f.reporter.reports)
}

func TestDecodeFailureFailsItem(t *testing.T) {
	f := newFixture(t, "x")
	f.transport.loadErr = errors.New("not an mp3")

	f.orch.apply(cmdStart{index: 0, payload: []byte("garbage")})

	it, _ := f.store.Item(0)
	assert.Equal(t, item.StatusError, it.Status)
	assert.Equal(t, StateEnded, f.orch.Snapshot().State)
}

func TestPauseIsIdempotent(t *testing.T) {
	f := newFixture(t, "x")
	f.startPlaying(t, 0)

	f.orch.apply(cmdPause{})
	first := f.orch.Snapshot()
	assert.Equal(t, StatePaused, first.State)
	assert.True(t, first.IsPaused())
	assert.Equal(t, 1, f.transport.pauses)

	f.orch.apply(cmdPause{})
	assert.Equal(t, first, f.orch.Snapshot())
	assert.Equal(t, 1, f.transport.pauses)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	f := newFixture(t, "x")
	f.startPlaying(t, 0)

	f.orch.apply(cmdPause{})
	assert.Equal(t, StatePaused, f.orch.Snapshot().State)

	f.orch.apply(cmdPlay{})
	assert.Equal(t, StatePlaying, f.orch.Snapshot().State)
	assert.Equal(t, 2, f.transport.plays)
}

func TestStopResetsAndClearsCurrent(t *testing.T) {
	f := newFixture(t, "x")
	f.startPlaying(t, 0)

	f.orch.apply(cmdStop{})
	snap := f.orch.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Current)
	assert.Zero(t, snap.Position)
	assert.Equal(t, 1, f.transport.stops)

	// The interrupted item is selectable again.
	it, _ := f.store.Item(0)
	assert.Equal(t, item.StatusWaiting, it.Status)
}

func TestMuteNeverMutatesVolume(t *testing.T) {
	f := newFixture(t, "x")

	f.orch.apply(cmdSetVolume{v: 0.5})
	assert.Equal(t, 0.5, f.orch.Snapshot().Volume)
	assert.Equal(t, 0.5, f.transport.volume)

	f.orch.apply(cmdToggleMute{})
	snap := f.orch.Snapshot()
	assert.True(t, snap.Muted)
	assert.Equal(t, 0.5, snap.Volume)
	assert.True(t, f.transport.muted)

	f.orch.apply(cmdToggleMute{})
	snap = f.orch.Snapshot()
	assert.False(t, snap.Muted)
	assert.Equal(t, 0.5, snap.Volume)
}

func TestVolumeClamped(t *testing.T) {
	f := newFixture(t, "x")

	f.orch.apply(cmdSetVolume{v: 1.7})
	assert.Equal(t, 1.0, f.orch.Snapshot().Volume)

	f.orch.apply(cmdSetVolume{v: -0.2})
	assert.Equal(t, 0.0, f.orch.Snapshot().Volume)
}

func TestRepeatOneRestartsWithoutSkippingFinishedReport(t *testing.T) {
	f := newFixture(t, "x")
	f.startPlaying(t, 0)
	f.orch.apply(cmdSetRepeat{mode: RepeatOne})

	f.orch.applyTransport(TransportEvent{Type: TransportEnded})

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "x", snap.Current.ID)
	assert.Equal(t, StatePlaying, snap.State)
	assert.Zero(t, snap.Position)
	assert.Equal(t, []time.Duration{0}, f.transport.seeks)
	assert.Equal(t, []string{"x:playing", "x:finished", "x:playing"}, f.reporter.reports)
}

func TestEndedAdvancesLinearly(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d")
	f.startPlaying(t, 2)

	f.orch.applyTransport(TransportEvent{Type: TransportEnded})

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "d", snap.Current.ID)
	assert.Equal(t, 3, f.store.CurrentIndex())

	it, _ := f.store.Item(2)
	assert.Equal(t, item.StatusCompleted, it.Status)
	assert.Contains(t, f.reporter.reports, "c:finished")
}

func TestEndedAtTailStaysEnded(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.startPlaying(t, 1)

	f.orch.applyTransport(TransportEvent{Type: TransportEnded})

	snap := f.orch.Snapshot()
	assert.Equal(t, StateEnded, snap.State)
	assert.Nil(t, snap.Current)

	// A finished item is never re-selected without an explicit repeat.
	assert.Equal(t, 1, len(f.transport.loads))
}

func TestRepeatAllWrapsToFirstItem(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.startPlaying(t, 1)
	f.orch.apply(cmdSetRepeat{mode: RepeatAll})

	f.orch.applyTransport(TransportEvent{Type: TransportEnded})

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "a", snap.Current.ID)
	assert.Equal(t, 0, f.store.CurrentIndex())
}

func TestShuffleSelectsRandomIndex(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.startPlaying(t, 0)
	f.orch.apply(cmdSetShuffle{on: true})
	f.orch.randFn = func(n int) int {
		assert.Equal(t, 3, n)
		return 2
	}

	f.orch.applyTransport(TransportEvent{Type: TransportEnded})

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "c", snap.Current.ID)
}

func TestErrorNeverAdvancesQueue(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.startPlaying(t, 0)

	f.orch.applyTransport(TransportEvent{Type: TransportError, Err: errors.New("decoder died")})

	snap := f.orch.Snapshot()
	assert.Equal(t, StateEnded, snap.State)
	assert.Nil(t, snap.Current)

	it, _ := f.store.Item(0)
	assert.Equal(t, item.StatusError, it.Status)
	assert.Contains(t, f.reporter.reports, "a:error")

	// Only the failed item was ever loaded.
	assert.Equal(t, 1, len(f.transport.loads))
}

func TestRapidStartsKeepOnlyLatestPayload(t *testing.T) {
	f := newFixture(t, "a", "b")

	f.orch.apply(cmdStart{index: 0, payload: []byte("first")})
	f.orch.apply(cmdStart{index: 1, payload: []byte("second")})

	assert.Equal(t, 2, len(f.transport.loads))
	assert.Equal(t, []byte("second"), f.transport.loads[1])

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "b", snap.Current.ID)

	// The interrupted first item is waiting again.
	it, _ := f.store.Item(0)
	assert.Equal(t, item.StatusWaiting, it.Status)
}

func TestLoadTimeoutFailsStalledItem(t *testing.T) {
	f := newFixture(t, "x")

	f.orch.apply(cmdStart{index: 0})
	require.Equal(t, StateLoading, f.orch.Snapshot().State)

	f.orch.apply(evLoadTimeout{gen: f.orch.loadGen})

	snap := f.orch.Snapshot()
	assert.Equal(t, StateEnded, snap.State)
	it, _ := f.store.Item(0)
	assert.Equal(t, item.StatusError, it.Status)
}

func TestStaleLoadTimeoutIsIgnored(t *testing.T) {
	f := newFixture(t, "x")
	f.startPlaying(t, 0)

	f.orch.apply(evLoadTimeout{gen: f.orch.loadGen - 1})
	assert.Equal(t, StatePlaying, f.orch.Snapshot().State)
}

func TestPlayFromIdleStartsNextItem(t *testing.T) {
	f := newFixture(t, "a", "b")

	f.orch.apply(cmdPlay{})
	snap := f.orch.Snapshot()
	assert.Equal(t, StateLoading, snap.State)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "a", snap.Current.ID)
}

func TestSeekClampsToDuration(t *testing.T) {
	f := newFixture(t, "x")
	f.startPlaying(t, 0)

	f.orch.apply(cmdSeek{pos: time.Minute})
	assert.Equal(t, []time.Duration{5 * time.Second}, f.transport.seeks)
	assert.Equal(t, 5*time.Second, f.orch.Snapshot().Position)
}

func TestTimeUpdateTracksPosition(t *testing.T) {
	f := newFixture(t, "x")
	f.startPlaying(t, 0)

	f.orch.applyTransport(TransportEvent{Type: TransportTime, Position: 2 * time.Second})
	assert.Equal(t, 2*time.Second, f.orch.Snapshot().Position)
}

// waitState polls until the orchestrator reaches the wanted state.
func waitState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.Snapshot().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, still %s", want, o.Snapshot().State)
}

func TestConcurrentCommandsDoNotRace(t *testing.T) {
	f := newFixture(t, "a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.orch.Run(ctx)
		close(done)
	}()

	// Commands arrive from the channel read loop, the UI and watchdog
	// callbacks at once; none of them may race with the run loop.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				f.orch.Play()
				f.orch.Pause()
				f.orch.SetVolume(0.4)
				f.orch.Snapshot()
			}
		}()
	}
	wg.Wait()

	cancel()
	<-done
}

// slowSource blocks every fetch until released.
type slowSource struct {
	release chan struct{}
	payload []byte
}

func (s *slowSource) Payload(context.Context, string) ([]byte, error) {
	<-s.release
	return s.payload, nil
}

func TestCommandsFlowDuringPayloadFetch(t *testing.T) {
	store := queue.NewStore()
	store.Append(item.New("x", item.Metadata{TextContent: "text x"}))
	transport := newFakeTransport()
	source := &slowSource{release: make(chan struct{}), payload: []byte("audio-x")}
	orch := New(store, transport, &fakeReporter{}, source, Config{InitialVolume: 0.7})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(done)
	}()

	orch.Start(0, nil)
	waitState(t, orch, StateLoading)

	// Stop is processed while the fetch is still in flight.
	orch.Stop()
	waitState(t, orch, StateIdle)

	// The late fetch result is stale and must never reach the transport.
	close(source.release)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, StateIdle, orch.Snapshot().State)
	assert.Empty(t, transport.loads)

	it, _ := store.Item(0)
	assert.Equal(t, item.StatusWaiting, it.Status)
}
