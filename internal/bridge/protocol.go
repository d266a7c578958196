// Package bridge implements the message protocol spoken between the page
// script, the popup and the speech process.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/daikw/cardspeak/internal/settings"
	"github.com/daikw/cardspeak/internal/speech"
	"github.com/daikw/cardspeak/internal/trigger"
)

// ErrUnknownAction is returned for envelopes with an unrecognized action
var ErrUnknownAction = errors.New("unknown action")

// Actions
const (
	ActionSpeak            = "speak"
	ActionDetectLanguage   = "detectLanguage"
	ActionGetSettings      = "getSettings"
	ActionSaveSettings     = "saveSettings"
	ActionSettingsChanged  = "settingsChanged"
	ActionSpeakFromPopup   = "speakFromPopup"
	ActionStopSpeaking     = "stopSpeaking"
	ActionSpeakingFinished = "speakingFinished"
	ActionAnswerChanged    = "answerChanged"
	ActionKeyPressed       = "keyPressed"
	ActionButtonPressed    = "buttonPressed"
	ActionGetStatus        = "getStatus"
)

// Envelope is one inbound message
type Envelope struct {
	ID       string             `json:"id,omitempty"`
	Action   string             `json:"action"`
	Text     string             `json:"text,omitempty"`
	Lang     string             `json:"lang,omitempty"`
	Type     string             `json:"type,omitempty"`
	Settings *settings.Settings `json:"settings,omitempty"`
	State    *trigger.Snapshot  `json:"state,omitempty"`
	Key      *trigger.KeyEvent  `json:"key,omitempty"`
}

// Reply answers an Envelope. getSettings replies carry the settings fields
// at the top level.
type Reply struct {
	ID           string         `json:"id,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	AudioURL     string         `json:"audioUrl,omitempty"`
	DetectedLang string         `json:"detectedLang,omitempty"`
	Lang         string         `json:"lang,omitempty"`
	Duration     float64        `json:"duration,omitempty"`
	Consumed     *bool          `json:"consumed,omitempty"`
	Stopped      *bool          `json:"stopped,omitempty"`
	Status       *speech.Status `json:"status,omitempty"`
	Error        string         `json:"error,omitempty"`

	*settings.Settings
}

// Notification is an outbound message with no reply, e.g. speakingFinished
type Notification struct {
	Action   string             `json:"action"`
	ID       string             `json:"id,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Settings *settings.Settings `json:"settings,omitempty"`
}

func flag(v bool) *bool {
	return &v
}

func success() *Reply {
	return &Reply{Success: flag(true)}
}

func failure(format string, args ...any) *Reply {
	return &Reply{Success: flag(false), Error: fmt.Sprintf(format, args...)}
}

// DecodeEnvelope parses one inbound message
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Action == "" {
		return env, fmt.Errorf("invalid envelope: missing action")
	}
	return env, nil
}

// FinishedNotification converts an orchestrator event into its wire form
func FinishedNotification(f speech.Finished) Notification {
	return Notification{Action: ActionSpeakingFinished, ID: f.ID, Reason: f.Reason}
}

// SettingsNotification announces new settings to every listener
func SettingsNotification(s settings.Settings) Notification {
	return Notification{Action: ActionSettingsChanged, Settings: &s}
}
