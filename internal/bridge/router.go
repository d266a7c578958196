package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/daikw/cardspeak/internal/settings"
	"github.com/daikw/cardspeak/internal/speech"
	"github.com/daikw/cardspeak/internal/trigger"
)

// AudioSource fetches remote audio and detects languages; see speech.Fetcher
type AudioSource interface {
	Fetch(ctx context.Context, text, lang string) (*speech.Audio, string, error)
	DetectLanguage(ctx context.Context, text string) string
}

// SettingsStore reads and writes settings; see settings.Store
type SettingsStore interface {
	Load(ctx context.Context) (settings.Settings, error)
	Save(ctx context.Context, s settings.Settings) error
}

// Orchestrator is the speech controller; see speech.Orchestrator
type Orchestrator interface {
	trigger.Speaker
	Status() speech.Status
}

// Router dispatches envelopes to the speech components
type Router struct {
	audio    AudioSource
	store    SettingsStore
	orch     Orchestrator
	watcher  *trigger.Watcher
	keyboard *trigger.Keyboard
	buttons  *trigger.Buttons
	popup    *trigger.Popup
}

// NewRouter creates a router. watcher may be nil to disable auto-speak.
func NewRouter(audio AudioSource, store SettingsStore, orch Orchestrator, watcher *trigger.Watcher) *Router {
	return &Router{
		audio:    audio,
		store:    store,
		orch:     orch,
		watcher:  watcher,
		keyboard: trigger.NewKeyboard(orch),
		buttons:  trigger.NewButtons(orch),
		popup:    trigger.NewPopup(orch),
	}
}

// HandleJSON decodes data, dispatches it and encodes the reply. A nil slice
// with a nil error means the message was a notification.
func (r *Router) HandleJSON(ctx context.Context, data []byte) ([]byte, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		out, _ := json.Marshal(failure("%v", err))
		return out, err
	}

	reply, handleErr := r.Handle(ctx, env)
	if reply == nil {
		return nil, handleErr
	}

	out, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reply: %w", err)
	}
	return out, handleErr
}

// Handle dispatches one envelope. The reply echoes the envelope id, or a
// generated one when absent. Unknown actions get an error reply and an error
// wrapping ErrUnknownAction.
func (r *Router) Handle(ctx context.Context, env Envelope) (*Reply, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	log.Debug().Str("id", env.ID).Str("action", env.Action).Msg("Handling message")

	reply, err := r.dispatch(ctx, env)
	if reply != nil {
		reply.ID = env.ID
	}
	return reply, err
}

func (r *Router) dispatch(ctx context.Context, env Envelope) (*Reply, error) {
	switch env.Action {
	case ActionSpeak:
		return r.speak(ctx, env), nil

	case ActionDetectLanguage:
		if strings.TrimSpace(env.Text) == "" {
			return &Reply{Lang: speech.DefaultLanguage}, nil
		}
		return &Reply{Lang: r.audio.DetectLanguage(ctx, env.Text)}, nil

	case ActionGetSettings:
		s, err := r.store.Load(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Could not load settings, replying with defaults")
		}
		return &Reply{Settings: &s}, nil

	case ActionSaveSettings, ActionSettingsChanged:
		if env.Settings == nil {
			return failure("settings are required"), nil
		}
		if err := r.store.Save(ctx, *env.Settings); err != nil {
			log.Warn().Err(err).Msg("Could not save settings")
			return failure("%v", err), nil
		}
		return success(), nil

	case ActionSpeakFromPopup:
		reply := r.popup.Speak(ctx, trigger.Kind(env.Type), r.state(env))
		return &Reply{Success: flag(reply.Success), Duration: reply.Duration, Error: reply.Error}, nil

	case ActionStopSpeaking:
		r.orch.Stop()
		return success(), nil

	case ActionSpeakingFinished:
		log.Debug().Str("id", env.ID).Msg("Peer finished speaking")
		return nil, nil

	case ActionAnswerChanged:
		if r.watcher != nil {
			r.watcher.Observe(ctx, r.state(env))
		}
		return success(), nil

	case ActionKeyPressed:
		if env.Key == nil {
			return failure("key is required"), nil
		}
		reply := success()
		reply.Consumed = flag(r.keyboard.Handle(ctx, *env.Key, r.state(env)))
		return reply, nil

	case ActionButtonPressed:
		reply := success()
		reply.Stopped = flag(r.buttons.Press(ctx, trigger.Kind(env.Type), r.state(env)))
		return reply, nil

	case ActionGetStatus:
		status := r.orch.Status()
		reply := success()
		reply.Status = &status
		return reply, nil
	}

	return failure("unknown action: %s", env.Action), fmt.Errorf("%w: %s", ErrUnknownAction, env.Action)
}

func (r *Router) speak(ctx context.Context, env Envelope) *Reply {
	text := strings.TrimSpace(env.Text)
	if text == "" {
		return failure("text is required")
	}

	audio, lang, err := r.audio.Fetch(ctx, text, env.Lang)
	if err != nil {
		log.Warn().Err(err).Msg("Remote speech fetch failed")
		return failure("%v", err)
	}

	return &Reply{
		Success:      flag(true),
		AudioURL:     audio.DataURI(),
		DetectedLang: lang,
	}
}

func (r *Router) state(env Envelope) trigger.AnswerState {
	if env.State == nil {
		return trigger.Snapshot{}
	}
	return *env.State
}
