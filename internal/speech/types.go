// Package speech turns text into audible speech. It fetches audio from a
// remote phrase-to-speech service, plays it with an external player, and
// falls back to the platform's on-device voices when the remote path fails.
package speech

import (
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrRemoteUnavailable is returned when the remote service fails or
	// cannot be reached
	ErrRemoteUnavailable = errors.New("remote speech unavailable")
	// ErrLocalUnavailable is returned when no on-device speech engine exists
	ErrLocalUnavailable = errors.New("local speech synthesis unavailable")
)

// DefaultLanguage is used whenever language detection fails
const DefaultLanguage = "en"

// State is the orchestrator's activity
type State int

const (
	Idle State = iota
	SpeakingRemote
	SpeakingLocal
)

func (s State) String() string {
	switch s {
	case SpeakingRemote:
		return "speaking_remote"
	case SpeakingLocal:
		return "speaking_local"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FallbackMode records whether the remote path may still be tried
type FallbackMode int

const (
	// RemoteCandidate means the next utterance tries remote audio first
	RemoteCandidate FallbackMode = iota
	// LocalOnly is entered after the first remote failure and never left
	LocalOnly
)

func (m FallbackMode) String() string {
	if m == LocalOnly {
		return "local_only"
	}
	return "remote_candidate"
}

// MarshalText implements encoding.TextMarshaler
func (m FallbackMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Audio is an encoded clip ready for playback
type Audio struct {
	Data     []byte
	MIMEType string
}

// DataURI returns the clip as a self-contained data: URI
func (a *Audio) DataURI() string {
	mime := a.MIMEType
	if mime == "" {
		mime = "audio/mpeg"
	}
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mime) + base64.StdEncoding.EncodedLen(len(a.Data)))
	b.WriteString("data:")
	b.WriteString(mime)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(a.Data))
	return b.String()
}

// Status is a snapshot of the orchestrator
type Status struct {
	State     State        `json:"state"`
	Mode      FallbackMode `json:"mode"`
	CurrentID string       `json:"currentId,omitempty"`
}

// Finish reasons carried by Finished
const (
	ReasonCompleted = "completed"
	ReasonStopped   = "stopped"
)

// Finished is published once per accepted utterance, and on every stop
type Finished struct {
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}
