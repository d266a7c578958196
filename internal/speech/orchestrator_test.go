package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daikw/cardspeak/internal/events"
	"github.com/daikw/cardspeak/internal/settings"
)

type fetchCall struct {
	text string
	lang string
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetchCall
	fn    func(ctx context.Context, text, lang string) (*Audio, string, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, text, lang string) (*Audio, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{text, lang})
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return &Audio{Data: []byte("mp3"), MIMEType: "audio/mpeg"}, lang, nil
	}
	return fn(ctx, text, lang)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakePlayback stands in for both the player and the local synthesizer.
// Each start returns a completion the test resolves by hand.
type fakePlayback struct {
	mu      sync.Mutex
	starts  []fetchCall
	rates   []float64
	current *Completion
	stops   int
	started chan struct{}
	autoErr error
	auto    bool
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{started: make(chan struct{}, 16)}
}

func (p *fakePlayback) start(text, lang string, rate float64) *Completion {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, fetchCall{text, lang})
	p.rates = append(p.rates, rate)
	c := NewCompletion()
	if p.auto {
		c.Resolve(p.autoErr)
	}
	p.current = c
	p.started <- struct{}{}
	return c
}

func (p *fakePlayback) Play(audio *Audio, rate float64) *Completion {
	return p.start(string(audio.Data), "", rate)
}

func (p *fakePlayback) Speak(text, lang string, speed float64) *Completion {
	return p.start(text, lang, speed)
}

func (p *fakePlayback) halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	if p.current != nil {
		p.current.Resolve(context.Canceled)
	}
}

func (p *fakePlayback) Stop()   { p.halt() }
func (p *fakePlayback) Cancel() { p.halt() }

func (p *fakePlayback) resolve(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current.Resolve(err)
}

func (p *fakePlayback) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.starts)
}

func (p *fakePlayback) lastStart() fetchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts[len(p.starts)-1]
}

func (p *fakePlayback) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never started")
	}
}

type harness struct {
	orch     *Orchestrator
	fetcher  *fakeFetcher
	player   *fakePlayback
	local    *fakePlayback
	store    *settings.Store
	finished <-chan any
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := events.NewBus()
	finished, unsub := bus.Subscribe(events.TopicSpeechFinished)
	t.Cleanup(unsub)

	h := &harness{
		fetcher:  &fakeFetcher{},
		player:   newFakePlayback(),
		local:    newFakePlayback(),
		store:    settings.NewStore(settings.NewMemoryKV(), nil),
		finished: finished,
	}
	h.orch = NewOrchestrator(h.fetcher, h.player, h.local, h.store, bus)
	return h
}

func (h *harness) expectFinished(t *testing.T) Finished {
	t.Helper()
	select {
	case v := <-h.finished:
		f, ok := v.(Finished)
		require.True(t, ok)
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no finished notification")
		return Finished{}
	}
}

func (h *harness) expectNoFinished(t *testing.T) {
	t.Helper()
	select {
	case v := <-h.finished:
		t.Fatalf("unexpected finished notification: %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitDone(t *testing.T, u *Utterance) {
	t.Helper()
	select {
	case <-u.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("utterance never finished")
	}
}

func TestOrchestrator_RemoteSuccess(t *testing.T) {
	h := newHarness(t)

	utt, ok := h.orch.Speak(context.Background(), "  Hola  ", "es")
	require.True(t, ok)
	assert.Equal(t, "Hola", utt.Text)
	assert.NotEmpty(t, utt.ID)
	assert.Equal(t, SpeakingRemote, h.orch.Status().State, "state changes before Speak returns")

	h.player.waitStarted(t)
	assert.Equal(t, []float64{1.3}, h.player.rates, "default speed applied to playback")
	assert.Equal(t, SpeakingRemote, utt.Route())

	h.player.resolve(nil)
	waitDone(t, utt)

	f := h.expectFinished(t)
	assert.Equal(t, utt.ID, f.ID)
	assert.Equal(t, ReasonCompleted, f.Reason)
	h.expectNoFinished(t)

	assert.Equal(t, Idle, h.orch.Status().State)
	assert.Equal(t, RemoteCandidate, h.orch.Status().Mode)
	assert.Equal(t, 0, h.local.startCount())
}

func TestOrchestrator_RejectsWithoutSideEffects(t *testing.T) {
	t.Run("blank text", func(t *testing.T) {
		h := newHarness(t)
		_, ok := h.orch.Speak(context.Background(), "   ", "en")
		assert.False(t, ok)
		assert.Equal(t, 0, h.fetcher.callCount())
		h.expectNoFinished(t)
	})

	t.Run("tts disabled", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.store.Set(context.Background(), settings.KeyTTSEnabled, "false")
		require.NoError(t, err)

		_, ok := h.orch.Speak(context.Background(), "hello", "en")
		assert.False(t, ok)
		assert.Equal(t, 0, h.fetcher.callCount())
		assert.Equal(t, Idle, h.orch.Status().State)
		h.expectNoFinished(t)
	})

	t.Run("already speaking", func(t *testing.T) {
		h := newHarness(t)
		first, ok := h.orch.Speak(context.Background(), "first", "en")
		require.True(t, ok)
		h.player.waitStarted(t)

		_, ok = h.orch.Speak(context.Background(), "second", "en")
		assert.False(t, ok, "requests are rejected, never queued")
		assert.Equal(t, 1, h.fetcher.callCount())

		h.player.resolve(nil)
		waitDone(t, first)
		h.expectFinished(t)
		h.expectNoFinished(t)
		assert.Equal(t, 1, h.player.startCount())
	})
}

func TestOrchestrator_SettingsAreReadPerCall(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.Set(context.Background(), settings.KeySpeed, "0.8")
	require.NoError(t, err)

	utt, ok := h.orch.Speak(context.Background(), "one", "en")
	require.True(t, ok)
	h.player.waitStarted(t)
	h.player.resolve(nil)
	waitDone(t, utt)
	h.expectFinished(t)

	_, err = h.store.Set(context.Background(), settings.KeySpeed, "1.9")
	require.NoError(t, err)

	utt, ok = h.orch.Speak(context.Background(), "two", "en")
	require.True(t, ok)
	h.player.waitStarted(t)
	h.player.resolve(nil)
	waitDone(t, utt)

	assert.Equal(t, []float64{0.8, 1.9}, h.player.rates)
}

func TestOrchestrator_FallbackIsSticky(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fn = func(ctx context.Context, text, lang string) (*Audio, string, error) {
		return nil, "es", fmt.Errorf("%w: status 503", ErrRemoteUnavailable)
	}

	utt, ok := h.orch.Speak(context.Background(), "Hola", "")
	require.True(t, ok)

	h.local.waitStarted(t)
	assert.Equal(t, fetchCall{"Hola", "es"}, h.local.lastStart(), "local uses the resolved language")
	assert.Equal(t, SpeakingLocal, h.orch.Status().State)
	assert.Equal(t, LocalOnly, h.orch.Status().Mode)
	assert.Equal(t, SpeakingLocal, utt.Route())

	h.local.resolve(nil)
	waitDone(t, utt)
	assert.Equal(t, ReasonCompleted, h.expectFinished(t).Reason)
	h.expectNoFinished(t)

	// Remote is never tried again, even after it would succeed
	h.fetcher.fn = nil
	utt, ok = h.orch.Speak(context.Background(), "Adios", "es")
	require.True(t, ok)
	assert.Equal(t, SpeakingLocal, h.orch.Status().State)

	h.local.waitStarted(t)
	h.local.resolve(nil)
	waitDone(t, utt)
	h.expectFinished(t)

	assert.Equal(t, 1, h.fetcher.callCount())
	assert.Equal(t, 0, h.player.startCount())
	assert.Equal(t, LocalOnly, h.orch.Status().Mode)
}

func TestOrchestrator_FallbackUsesHintWithoutDetection(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fn = func(ctx context.Context, text, lang string) (*Audio, string, error) {
		return nil, "", errors.New("network down")
	}

	utt, ok := h.orch.Speak(context.Background(), "Bonjour", "fr")
	require.True(t, ok)
	h.local.waitStarted(t)
	assert.Equal(t, "fr", h.local.lastStart().lang)

	h.local.resolve(nil)
	waitDone(t, utt)
}

func TestOrchestrator_LocalUnavailableStillFinishes(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fn = func(ctx context.Context, text, lang string) (*Audio, string, error) {
		return nil, lang, ErrRemoteUnavailable
	}
	h.local.auto = true
	h.local.autoErr = ErrLocalUnavailable

	utt, ok := h.orch.Speak(context.Background(), "hello", "en")
	require.True(t, ok)
	waitDone(t, utt)

	assert.Equal(t, ReasonCompleted, h.expectFinished(t).Reason)
	h.expectNoFinished(t)
	assert.Equal(t, Idle, h.orch.Status().State)
}

func TestOrchestrator_PlaybackErrorCountsAsCompletion(t *testing.T) {
	h := newHarness(t)
	h.player.auto = true
	h.player.autoErr = errors.New("decode failed")

	utt, ok := h.orch.Speak(context.Background(), "hello", "en")
	require.True(t, ok)
	waitDone(t, utt)

	assert.Equal(t, ReasonCompleted, h.expectFinished(t).Reason)
	assert.Equal(t, Idle, h.orch.Status().State)
	assert.Equal(t, RemoteCandidate, h.orch.Status().Mode, "playback errors do not trigger fallback")
	assert.Equal(t, 0, h.local.startCount())
}

func TestOrchestrator_StopDuringFetch(t *testing.T) {
	h := newHarness(t)
	fetching := make(chan struct{})
	h.fetcher.fn = func(ctx context.Context, text, lang string) (*Audio, string, error) {
		close(fetching)
		<-ctx.Done()
		return nil, lang, fmt.Errorf("%w: %w", ErrRemoteUnavailable, ctx.Err())
	}

	utt, ok := h.orch.Speak(context.Background(), "hello", "en")
	require.True(t, ok)
	<-fetching

	h.orch.Stop()
	waitDone(t, utt)

	f := h.expectFinished(t)
	assert.Equal(t, ReasonStopped, f.Reason)
	assert.Equal(t, utt.ID, f.ID)
	h.expectNoFinished(t)

	assert.Equal(t, Idle, h.orch.Status().State)
	assert.Equal(t, RemoteCandidate, h.orch.Status().Mode, "a stopped fetch is not a remote failure")
	assert.Equal(t, 0, h.player.startCount())
	assert.Equal(t, 0, h.local.startCount())
}

func TestOrchestrator_StopDuringPlayback(t *testing.T) {
	h := newHarness(t)

	utt, ok := h.orch.Speak(context.Background(), "hello", "en")
	require.True(t, ok)
	h.player.waitStarted(t)

	h.orch.Stop()
	waitDone(t, utt)

	assert.Equal(t, ReasonStopped, h.expectFinished(t).Reason)
	h.expectNoFinished(t)
	assert.Equal(t, 1, h.player.stops)

	// A new utterance is accepted right away
	next, ok := h.orch.Speak(context.Background(), "again", "en")
	require.True(t, ok)
	h.player.waitStarted(t)
	h.player.resolve(nil)
	waitDone(t, next)
	assert.Equal(t, ReasonCompleted, h.expectFinished(t).Reason)
}

func TestOrchestrator_StopDuringLocal(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fn = func(ctx context.Context, text, lang string) (*Audio, string, error) {
		return nil, lang, ErrRemoteUnavailable
	}

	utt, ok := h.orch.Speak(context.Background(), "hello", "en")
	require.True(t, ok)
	h.local.waitStarted(t)

	h.orch.Stop()
	waitDone(t, utt)

	assert.Equal(t, ReasonStopped, h.expectFinished(t).Reason)
	h.expectNoFinished(t)
	assert.Equal(t, 1, h.local.stops)
	assert.Equal(t, LocalOnly, h.orch.Status().Mode)
}

func TestOrchestrator_StopWhenIdle(t *testing.T) {
	h := newHarness(t)

	h.orch.Stop()
	f := h.expectFinished(t)
	assert.Equal(t, ReasonStopped, f.Reason)
	assert.Empty(t, f.ID)

	h.orch.Stop()
	h.expectFinished(t)
	assert.Equal(t, Idle, h.orch.Status().State)
	assert.False(t, h.orch.IsSpeaking())
}

func TestOrchestrator_Status(t *testing.T) {
	h := newHarness(t)

	utt, ok := h.orch.Speak(context.Background(), "hello", "en")
	require.True(t, ok)
	status := h.orch.Status()
	assert.Equal(t, utt.ID, status.CurrentID)
	assert.True(t, h.orch.IsSpeaking())

	h.player.waitStarted(t)
	h.player.resolve(nil)
	waitDone(t, utt)
	h.expectFinished(t)
	assert.Empty(t, h.orch.Status().CurrentID)
}

func TestOrchestrator_RequestContextDoesNotCancelUtterance(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	utt, ok := h.orch.Speak(ctx, "hello", "en")
	require.True(t, ok)
	cancel()

	h.player.waitStarted(t)
	assert.Equal(t, SpeakingRemote, h.orch.Status().State)
	h.player.resolve(nil)
	waitDone(t, utt)
	assert.Equal(t, ReasonCompleted, h.expectFinished(t).Reason)
}

func TestOrchestrator_SpeakLocal(t *testing.T) {
	h := newHarness(t)

	utt, ok := h.orch.SpeakLocal(context.Background(), "Hola", "es")
	require.True(t, ok)
	assert.Equal(t, SpeakingLocal, h.orch.Status().State)

	h.local.waitStarted(t)
	assert.Equal(t, fetchCall{"Hola", "es"}, h.local.lastStart())
	assert.Equal(t, 0, h.fetcher.callCount(), "remote is never tried")

	h.local.resolve(nil)
	waitDone(t, utt)
	assert.Equal(t, utt.ID, h.expectFinished(t).ID)
	h.expectNoFinished(t)
	assert.Equal(t, RemoteCandidate, h.orch.Status().Mode, "forced local is not a fallback")

	next, ok := h.orch.Speak(context.Background(), "Hola", "es")
	require.True(t, ok)
	h.player.waitStarted(t)
	assert.Equal(t, 1, h.fetcher.callCount())
	h.player.resolve(nil)
	waitDone(t, next)
	h.expectFinished(t)
}

func TestOrchestrator_SpeakLocalHonorsSettings(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.Set(context.Background(), settings.KeyTTSEnabled, "false")
	require.NoError(t, err)

	_, ok := h.orch.SpeakLocal(context.Background(), "Hola", "es")
	assert.False(t, ok)
	assert.Equal(t, 0, h.local.startCount())
	h.expectNoFinished(t)
}

// instantPlayback completes every clip as soon as it starts
type instantPlayback struct{}

func (instantPlayback) Play(*Audio, float64) *Completion          { return Resolved(nil) }
func (instantPlayback) Speak(string, string, float64) *Completion { return Resolved(nil) }
func (instantPlayback) Stop()                                     {}
func (instantPlayback) Cancel()                                   {}

func TestOrchestrator_FinishedExactlyOnceUnderChurn(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	finished, unsub := bus.Subscribe(events.TopicSpeechFinished)
	defer unsub()

	store := settings.NewStore(settings.NewMemoryKV(), nil)
	orch := NewOrchestrator(&fakeFetcher{}, instantPlayback{}, instantPlayback{}, store, bus)

	const workers, rounds = 8, 100
	var (
		mu       sync.Mutex
		accepted []*Utterance
		stops    int
		wg       sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if (w+i)%3 == 0 {
					orch.Stop()
					mu.Lock()
					stops++
					mu.Unlock()
					continue
				}
				if utt, ok := orch.Speak(context.Background(), fmt.Sprintf("w%d-%d", w, i), "en"); ok {
					mu.Lock()
					accepted = append(accepted, utt)
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	for _, utt := range accepted {
		waitDone(t, utt)
	}
	require.Eventually(t, func() bool { return !orch.IsSpeaking() }, 2*time.Second, time.Millisecond)

	// nobody read the subscription while the churn ran
	seen := make(map[string]int)
	stopped := 0
	for {
		select {
		case v := <-finished:
			f := v.(Finished)
			if f.Reason == ReasonStopped {
				stopped++
			}
			if f.ID != "" {
				seen[f.ID]++
			}
			continue
		case <-time.After(200 * time.Millisecond):
		}
		break
	}

	assert.Equal(t, stops, stopped, "every Stop publishes one finished")
	for _, utt := range accepted {
		assert.Equal(t, 1, seen[utt.ID], "utterance %s", utt.ID)
	}
	assert.Len(t, seen, len(accepted))
	assert.Zero(t, bus.Drops(events.TopicSpeechFinished))
}
