package speech

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/daikw/cardspeak/internal/events"
	"github.com/daikw/cardspeak/internal/settings"
)

// RemoteFetcher obtains remote audio; see Fetcher
type RemoteFetcher interface {
	Fetch(ctx context.Context, text, lang string) (*Audio, string, error)
}

// AudioPlayer plays fetched clips; see ExecPlayer
type AudioPlayer interface {
	Play(audio *Audio, rate float64) *Completion
	Stop()
}

// Synthesizer speaks with on-device voices; see LocalSynthesizer
type Synthesizer interface {
	Speak(text, lang string, speed float64) *Completion
	Cancel()
}

// SettingsSource supplies the current settings; see settings.Store
type SettingsSource interface {
	Load(ctx context.Context) (settings.Settings, error)
}

// Utterance is one accepted speak request
type Utterance struct {
	ID       string
	Text     string
	Language string

	mu    sync.Mutex
	route State
	once  sync.Once
	done  chan struct{}
}

func newUtterance(text, lang string, route State) *Utterance {
	return &Utterance{
		ID:       uuid.NewString(),
		Text:     text,
		Language: lang,
		route:    route,
		done:     make(chan struct{}),
	}
}

// Done is closed when the utterance ends for any reason
func (u *Utterance) Done() <-chan struct{} {
	return u.done
}

// Route reports whether the utterance is using remote or local speech
func (u *Utterance) Route() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.route
}

func (u *Utterance) setRoute(route State) {
	u.mu.Lock()
	u.route = route
	u.mu.Unlock()
}

func (u *Utterance) finish() {
	u.once.Do(func() { close(u.done) })
}

// Orchestrator speaks at most one utterance at a time. It tries remote audio
// first and switches to local synthesis for the rest of its lifetime after
// the first remote failure.
type Orchestrator struct {
	remote   RemoteFetcher
	player   AudioPlayer
	local    Synthesizer
	settings SettingsSource
	pub      events.Publisher

	mu      sync.Mutex
	state   State
	mode    FallbackMode
	gen     uint64
	current *Utterance
	cancel  context.CancelFunc
}

// NewOrchestrator wires the speech components. pub may be nil.
func NewOrchestrator(remote RemoteFetcher, player AudioPlayer, local Synthesizer, src SettingsSource, pub events.Publisher) *Orchestrator {
	return &Orchestrator{
		remote:   remote,
		player:   player,
		local:    local,
		settings: src,
		pub:      pub,
	}
}

// Status returns a snapshot of the current state
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Orchestrator) statusLocked() Status {
	s := Status{State: o.state, Mode: o.mode}
	if o.current != nil {
		s.CurrentID = o.current.ID
	}
	return s
}

// IsSpeaking reports whether an utterance is in progress
func (o *Orchestrator) IsSpeaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state != Idle
}

// Speak accepts text for speaking and returns at once. It returns false
// without side effects when speech is disabled, text is blank, or another
// utterance is in progress. Requests are never queued.
func (o *Orchestrator) Speak(ctx context.Context, text, lang string) (*Utterance, bool) {
	return o.speak(ctx, text, lang, false)
}

// SpeakLocal is Speak restricted to on-device voices. It skips the remote
// fetch without changing the fallback mode.
func (o *Orchestrator) SpeakLocal(ctx context.Context, text, lang string) (*Utterance, bool) {
	return o.speak(ctx, text, lang, true)
}

func (o *Orchestrator) speak(ctx context.Context, text, lang string, forceLocal bool) (*Utterance, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	current, err := o.settings.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not load settings, using defaults")
	}
	if !current.TTSEnabled {
		log.Debug().Msg("Speech disabled, ignoring request")
		return nil, false
	}
	speed := settings.ClampSpeed(current.Speed)

	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		log.Debug().Str("text", text).Msg("Already speaking, rejecting request")
		return nil, false
	}

	route := SpeakingRemote
	if o.mode == LocalOnly || forceLocal {
		route = SpeakingLocal
	}

	// The utterance outlives the request that started it
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	o.gen++
	gen := o.gen
	utt := newUtterance(text, lang, route)
	o.state = route
	o.current = utt
	o.cancel = cancel
	status := o.statusLocked()
	o.mu.Unlock()

	log.Info().
		Str("id", utt.ID).
		Str("lang", lang).
		Str("route", route.String()).
		Msg("Speaking")

	o.publish(events.TopicSpeechStatus, status)

	go o.run(runCtx, gen, utt, speed)
	return utt, true
}

func (o *Orchestrator) run(ctx context.Context, gen uint64, utt *Utterance, speed float64) {
	if utt.Route() == SpeakingLocal {
		o.speakLocal(gen, utt, utt.Language, speed, false)
		return
	}

	audio, resolved, err := o.remote.Fetch(ctx, utt.Text, utt.Language)
	if err != nil {
		if ctx.Err() != nil {
			// Stopped while fetching
			return
		}
		log.Warn().Err(err).Str("id", utt.ID).Msg("Remote speech failed, switching to local voices")

		localLang := resolved
		if localLang == "" {
			localLang = utt.Language
		}
		o.speakLocal(gen, utt, localLang, speed, true)
		return
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	completion := o.player.Play(audio, speed)
	o.mu.Unlock()

	<-completion.Done()
	if err := completion.Err(); err != nil {
		log.Debug().Err(err).Str("id", utt.ID).Msg("Playback ended with error")
	}
	o.finish(gen)
}

// speakLocal runs utt on the local synthesizer. fallback marks a remote
// failure, which makes the local route sticky.
func (o *Orchestrator) speakLocal(gen uint64, utt *Utterance, lang string, speed float64, fallback bool) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	if fallback {
		o.mode = LocalOnly
	}
	o.state = SpeakingLocal
	utt.setRoute(SpeakingLocal)
	status := o.statusLocked()
	completion := o.local.Speak(utt.Text, lang, speed)
	o.mu.Unlock()

	o.publish(events.TopicSpeechStatus, status)

	<-completion.Done()
	if err := completion.Err(); err != nil {
		log.Debug().Err(err).Str("id", utt.ID).Msg("Local speech ended with error")
	}
	o.finish(gen)
}

// finish returns to Idle if gen is still the active utterance
func (o *Orchestrator) finish(gen uint64) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	utt := o.current
	o.resetLocked()
	status := o.statusLocked()
	o.mu.Unlock()

	utt.finish()
	log.Debug().Str("id", utt.ID).Msg("Finished speaking")

	o.publish(events.TopicSpeechFinished, Finished{ID: utt.ID, Reason: ReasonCompleted})
	o.publish(events.TopicSpeechStatus, status)
}

// Stop halts any remote fetch, playback or local utterance and returns to
// Idle. A finished notification is published even when nothing was speaking.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	utt := o.current
	o.gen++
	o.resetLocked()
	o.player.Stop()
	o.local.Cancel()
	status := o.statusLocked()
	o.mu.Unlock()

	finished := Finished{Reason: ReasonStopped}
	if utt != nil {
		utt.finish()
		finished.ID = utt.ID
		log.Info().Str("id", utt.ID).Msg("Speech stopped")
	}

	o.publish(events.TopicSpeechFinished, finished)
	o.publish(events.TopicSpeechStatus, status)
}

func (o *Orchestrator) resetLocked() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.state = Idle
	o.current = nil
}

func (o *Orchestrator) publish(topic string, payload any) {
	if o.pub != nil {
		o.pub.Publish(topic, payload)
	}
}
