// Package trigger decides when and what to speak in response to the
// flashcard page: answer reveals, keyboard shortcuts, speaker buttons and
// popup requests.
package trigger

import (
	"context"
	"strings"

	"github.com/daikw/cardspeak/internal/settings"
	"github.com/daikw/cardspeak/internal/speech"
)

// blankMarker marks an unanswered gap in a sentence
const blankMarker = "___"

// AnswerState is a read-only view of what the flashcard page shows
type AnswerState interface {
	// Revealed reports whether the answer word is visible
	Revealed() bool
	// CurrentWord returns the revealed word, or ""
	CurrentWord() string
	// CurrentSentence returns the full sentence, or "" while it still has blanks
	CurrentSentence() string
	// CurrentLanguage returns the study language, or "" to auto-detect
	CurrentLanguage() string
}

// Snapshot is the JSON form of AnswerState forwarded by the page script
type Snapshot struct {
	Word     string `json:"word,omitempty"`
	Sentence string `json:"sentence,omitempty"`
	Language string `json:"lang,omitempty"`
	// IsRevealed is true once the page marks the answer right or wrong
	IsRevealed bool `json:"revealed"`
}

// Revealed implements AnswerState
func (s Snapshot) Revealed() bool { return s.IsRevealed }

// CurrentWord implements AnswerState
func (s Snapshot) CurrentWord() string { return strings.TrimSpace(s.Word) }

// CurrentSentence implements AnswerState
func (s Snapshot) CurrentSentence() string {
	sentence := strings.TrimSpace(s.Sentence)
	if strings.Contains(sentence, blankMarker) {
		return ""
	}
	return sentence
}

// CurrentLanguage implements AnswerState
func (s Snapshot) CurrentLanguage() string { return strings.TrimSpace(s.Language) }

// Speaker is the part of the speech orchestrator the triggers drive
type Speaker interface {
	Speak(ctx context.Context, text, lang string) (*speech.Utterance, bool)
	Stop()
	IsSpeaking() bool
}

// SettingsSource supplies the current settings
type SettingsSource interface {
	Load(ctx context.Context) (settings.Settings, error)
}

// Kind selects what a manual trigger speaks
type Kind string

const (
	KindWord     Kind = "word"
	KindSentence Kind = "sentence"
)

// textFor returns the text a manual trigger of kind would speak
func textFor(kind Kind, state AnswerState) string {
	if state == nil {
		return ""
	}
	switch kind {
	case KindSentence:
		return state.CurrentSentence()
	default:
		return state.CurrentWord()
	}
}
