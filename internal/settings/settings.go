// Package settings holds the user's speech preferences and their flat
// key-value persistence.
package settings

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/daikw/cardspeak/internal/events"
)

// Persisted keys
const (
	KeyTTSEnabled    = "ttsEnabled"
	KeyAutoSpeak     = "autoSpeak"
	KeySpeakWord     = "speakWord"
	KeySpeakSentence = "speakSentence"
	KeySpeed         = "speed"
)

// Speed limits and default
const (
	MinSpeed     = 0.5
	MaxSpeed     = 2.0
	DefaultSpeed = 1.3
)

// Keys lists every persisted key in display order
var Keys = []string{KeyTTSEnabled, KeyAutoSpeak, KeySpeakWord, KeySpeakSentence, KeySpeed}

// Settings is one snapshot of the user's speech preferences
type Settings struct {
	TTSEnabled    bool    `json:"ttsEnabled"`
	AutoSpeak     bool    `json:"autoSpeak"`
	SpeakWord     bool    `json:"speakWord"`
	SpeakSentence bool    `json:"speakSentence"`
	Speed         float64 `json:"speed"`
}

// Defaults returns the settings used for keys that were never stored
func Defaults() Settings {
	return Settings{
		TTSEnabled:    true,
		AutoSpeak:     true,
		SpeakWord:     false,
		SpeakSentence: true,
		Speed:         DefaultSpeed,
	}
}

// Normalize returns s with speed clamped to [MinSpeed, MaxSpeed]. A zero or
// invalid speed becomes DefaultSpeed.
func (s Settings) Normalize() Settings {
	s.Speed = ClampSpeed(s.Speed)
	return s
}

// ClampSpeed maps any speed onto the supported range
func ClampSpeed(speed float64) float64 {
	switch {
	case speed == 0 || math.IsNaN(speed) || math.IsInf(speed, 0):
		return DefaultSpeed
	case speed < MinSpeed:
		return MinSpeed
	case speed > MaxSpeed:
		return MaxSpeed
	}
	return speed
}

// Values encodes s as flat key-value pairs
func (s Settings) Values() map[string]string {
	return map[string]string{
		KeyTTSEnabled:    strconv.FormatBool(s.TTSEnabled),
		KeyAutoSpeak:     strconv.FormatBool(s.AutoSpeak),
		KeySpeakWord:     strconv.FormatBool(s.SpeakWord),
		KeySpeakSentence: strconv.FormatBool(s.SpeakSentence),
		KeySpeed:         strconv.FormatFloat(s.Speed, 'f', -1, 64),
	}
}

// Apply parses raw into the field named by key
func (s *Settings) Apply(key, raw string) error {
	raw = strings.TrimSpace(raw)

	if key == KeySpeed {
		speed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid speed %q: %w", raw, err)
		}
		s.Speed = ClampSpeed(speed)
		return nil
	}

	var target *bool
	switch key {
	case KeyTTSEnabled:
		target = &s.TTSEnabled
	case KeyAutoSpeak:
		target = &s.AutoSpeak
	case KeySpeakWord:
		target = &s.SpeakWord
	case KeySpeakSentence:
		target = &s.SpeakSentence
	default:
		return fmt.Errorf("unknown setting: %s", key)
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q", key, raw)
	}
	*target = value
	return nil
}

// KV is a flat string key-value store
type KV interface {
	// Get returns the stored value and whether the key exists
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores every pair; existing keys are overwritten
	Set(ctx context.Context, values map[string]string) error
}

// Store reads and writes Settings over a KV. Last write wins.
type Store struct {
	kv  KV
	pub events.Publisher
}

// NewStore creates a settings store. pub may be nil.
func NewStore(kv KV, pub events.Publisher) *Store {
	return &Store{kv: kv, pub: pub}
}

// Load returns the stored settings, using defaults for absent or unreadable keys
func (s *Store) Load(ctx context.Context) (Settings, error) {
	result := Defaults()

	for _, key := range Keys {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return Defaults(), fmt.Errorf("failed to read setting %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if err := result.Apply(key, raw); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Ignoring malformed stored setting")
		}
	}

	return result.Normalize(), nil
}

// Save persists every field of settings and announces the change
func (s *Store) Save(ctx context.Context, settings Settings) error {
	settings = settings.Normalize()
	if err := s.kv.Set(ctx, settings.Values()); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	log.Debug().
		Bool("tts_enabled", settings.TTSEnabled).
		Bool("auto_speak", settings.AutoSpeak).
		Float64("speed", settings.Speed).
		Msg("Settings saved")

	if s.pub != nil {
		s.pub.Publish(events.TopicSettingsChanged, settings)
	}
	return nil
}

// Set updates a single key from its string form
func (s *Store) Set(ctx context.Context, key, raw string) (Settings, error) {
	current, err := s.Load(ctx)
	if err != nil {
		return current, err
	}
	if err := current.Apply(key, raw); err != nil {
		return current, err
	}
	if err := s.Save(ctx, current); err != nil {
		return current, err
	}
	return current, nil
}

// Reset stores the defaults
func (s *Store) Reset(ctx context.Context) (Settings, error) {
	defaults := Defaults()
	return defaults, s.Save(ctx, defaults)
}
