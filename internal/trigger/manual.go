package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// KeyEvent is a key press forwarded from the page
type KeyEvent struct {
	Key         string `json:"key"`
	Shift       bool   `json:"shift"`
	InTextInput bool   `json:"inTextInput"`
}

// Keyboard maps shortcuts to speech: s speaks the word, Shift+S the sentence
type Keyboard struct {
	speaker Speaker
}

// NewKeyboard creates a keyboard trigger
func NewKeyboard(speaker Speaker) *Keyboard {
	return &Keyboard{speaker: speaker}
}

// Handle processes one key press and reports whether it was a shortcut the
// page should not handle itself
func (k *Keyboard) Handle(ctx context.Context, ev KeyEvent, state AnswerState) bool {
	if ev.InTextInput || !strings.EqualFold(ev.Key, "s") {
		return false
	}

	kind := KindWord
	if ev.Shift {
		kind = KindSentence
	}

	if text := textFor(kind, state); text != "" {
		k.speaker.Speak(ctx, text, state.CurrentLanguage())
	}
	return true
}

// Buttons handles the speaker buttons injected next to the word and sentence.
// Pressing a button while speaking stops speech instead.
type Buttons struct {
	speaker Speaker
}

// NewButtons creates a speaker-button trigger
func NewButtons(speaker Speaker) *Buttons {
	return &Buttons{speaker: speaker}
}

// Press handles a click on the button for kind. It returns true when the
// click stopped speech.
func (b *Buttons) Press(ctx context.Context, kind Kind, state AnswerState) bool {
	if b.speaker.IsSpeaking() {
		b.speaker.Stop()
		return true
	}
	if text := textFor(kind, state); text != "" {
		b.speaker.Speak(ctx, text, state.CurrentLanguage())
	}
	return false
}

// DefaultWaitCap is how long a UI waits for speech without an estimate
const DefaultWaitCap = 5 * time.Second

// PopupReply answers a popup speak request. Duration is a rough estimate in
// seconds, used only to bound UI waits.
type PopupReply struct {
	Success  bool    `json:"success"`
	Duration float64 `json:"duration,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Popup serves speak requests from the extension popup
type Popup struct {
	speaker Speaker
}

// NewPopup creates a popup trigger
func NewPopup(speaker Speaker) *Popup {
	return &Popup{speaker: speaker}
}

// Speak speaks the word or sentence currently on the page
func (p *Popup) Speak(ctx context.Context, kind Kind, state AnswerState) PopupReply {
	if kind != KindWord && kind != KindSentence {
		return PopupReply{Error: fmt.Sprintf("unknown type: %s", kind)}
	}

	text := textFor(kind, state)
	if text == "" {
		return PopupReply{Error: fmt.Sprintf("no %s to speak", kind)}
	}

	if _, ok := p.speaker.Speak(ctx, text, state.CurrentLanguage()); !ok {
		log.Debug().Str("type", string(kind)).Msg("Popup speak request not accepted")
		return PopupReply{Error: "speech disabled or already speaking"}
	}
	return PopupReply{Success: true, Duration: EstimateDuration(text)}
}

// EstimateDuration guesses speaking time as one second per ten characters
func EstimateDuration(text string) float64 {
	return float64(utf8.RuneCountInString(text)) / 10
}

// WaitCap returns how long a UI should wait before assuming speech ended
func WaitCap(duration float64) time.Duration {
	if duration <= 0 {
		return DefaultWaitCap
	}
	return time.Duration(duration * float64(time.Second))
}
