package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSettleDelay lets the page finish re-rendering before speaking
const DefaultSettleDelay = 200 * time.Millisecond

// Watcher speaks automatically when an answer is revealed
type Watcher struct {
	speaker  Speaker
	settings SettingsSource
	delay    time.Duration
	last     LastSpoken

	mu     sync.Mutex
	timer  *time.Timer
	seq    uint64 // identifies the live timer; bumped on reschedule and Close
	latest AnswerState
	ctx    context.Context
}

// NewWatcher creates a watcher. A delay <= 0 uses DefaultSettleDelay.
func NewWatcher(speaker Speaker, src SettingsSource, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	return &Watcher{speaker: speaker, settings: src, delay: delay}
}

// Observe is called on every change to the page. When the answer is revealed,
// auto-speak is on and nothing is speaking, speech is scheduled after the
// settle delay; a later change restarts the delay.
func (w *Watcher) Observe(ctx context.Context, state AnswerState) {
	if state == nil || !state.Revealed() {
		return
	}

	s, err := w.settings.Load(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Could not load settings for auto-speak")
	}
	if !s.AutoSpeak || w.speaker.IsSpeaking() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest = state
	w.ctx = context.WithoutCancel(ctx)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.seq++
	seq := w.seq
	w.timer = time.AfterFunc(w.delay, func() { w.fire(seq) })
}

// fire runs when timer seq expires. A timer that lost the race with a
// reschedule or Close finds a newer seq and does nothing.
func (w *Watcher) fire(seq uint64) {
	w.mu.Lock()
	if seq != w.seq {
		w.mu.Unlock()
		return
	}
	state, ctx := w.latest, w.ctx
	w.timer = nil
	w.mu.Unlock()

	if state == nil {
		return
	}

	sentence := state.CurrentSentence()
	if sentence == "" || w.last.IsDuplicate(sentence) {
		return
	}

	s, err := w.settings.Load(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Could not load settings for auto-speak")
	}
	lang := state.CurrentLanguage()

	switch {
	case s.SpeakSentence:
		w.last.Record(sentence)
		log.Debug().Str("sentence", sentence).Msg("Auto-speaking sentence")
		w.speaker.Speak(ctx, sentence, lang)
	case s.SpeakWord:
		if word := state.CurrentWord(); word != "" {
			log.Debug().Str("word", word).Msg("Auto-speaking word")
			w.speaker.Speak(ctx, word, lang)
		}
	}
}

// Pending reports whether speech is scheduled
func (w *Watcher) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

// Close cancels any scheduled speech
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
