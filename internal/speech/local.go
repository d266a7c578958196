package speech

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// baseWordsPerMinute is the engines' rate at speed 1.0
const baseWordsPerMinute = 175

// Engine drives one on-device speech binary
type Engine interface {
	// Name returns the engine name
	Name() string
	// Voices lists the installed voices
	Voices(ctx context.Context) ([]LocalVoice, error)
	// Command builds the process that speaks text. voice may be nil.
	Command(ctx context.Context, text string, voice *LocalVoice, wpm int) *exec.Cmd
}

// SayEngine uses the macOS say command
type SayEngine struct {
	Path string
}

// Name returns the engine name
func (e *SayEngine) Name() string { return "say" }

// Voices lists installed voices via `say -v ?`
func (e *SayEngine) Voices(ctx context.Context) ([]LocalVoice, error) {
	out, err := exec.CommandContext(ctx, e.Path, "-v", "?").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list say voices: %w", err)
	}
	return parseSayVoices(string(out)), nil
}

// Command builds the say invocation
func (e *SayEngine) Command(ctx context.Context, text string, voice *LocalVoice, wpm int) *exec.Cmd {
	args := []string{"-r", strconv.Itoa(wpm)}
	if voice != nil {
		args = append(args, "-v", voice.ID)
	}
	args = append(args, "--", text)
	return exec.CommandContext(ctx, e.Path, args...)
}

// EspeakEngine uses espeak-ng or espeak
type EspeakEngine struct {
	Path string
}

// Name returns the engine name
func (e *EspeakEngine) Name() string { return "espeak" }

// Voices lists installed voices via `espeak --voices`
func (e *EspeakEngine) Voices(ctx context.Context) ([]LocalVoice, error) {
	out, err := exec.CommandContext(ctx, e.Path, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list espeak voices: %w", err)
	}
	return parseEspeakVoices(string(out)), nil
}

// Command builds the espeak invocation
func (e *EspeakEngine) Command(ctx context.Context, text string, voice *LocalVoice, wpm int) *exec.Cmd {
	args := []string{"-s", strconv.Itoa(wpm), "-p", "50"}
	if voice != nil {
		args = append(args, "-v", voice.ID)
	}
	args = append(args, "--", text)
	return exec.CommandContext(ctx, e.Path, args...)
}

// DetectEngine returns the first speech engine found on PATH, or nil
func DetectEngine() Engine {
	if path, err := exec.LookPath("say"); err == nil {
		return &SayEngine{Path: path}
	}
	for _, name := range []string{"espeak-ng", "espeak"} {
		if path, err := exec.LookPath(name); err == nil {
			return &EspeakEngine{Path: path}
		}
	}
	return nil
}

// EngineNames lists the engines EngineByName accepts, in detection order
func EngineNames() []string {
	return []string{"say", "espeak-ng", "espeak"}
}

// EngineByName resolves a configured engine name ("say", "espeak-ng" or
// "espeak") on PATH. An empty name detects the engine.
func EngineByName(name string) (Engine, error) {
	switch name {
	case "":
		return DetectEngine(), nil
	case "say", "espeak-ng", "espeak":
	default:
		return nil, fmt.Errorf("unknown speech engine: %s", name)
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %w", ErrLocalUnavailable, name, err)
	}
	if name == "say" {
		return &SayEngine{Path: path}, nil
	}
	return &EspeakEngine{Path: path}, nil
}

// LocalSynthesizer speaks text with an on-device engine. At most one local
// utterance runs at a time; starting a new one cancels the previous.
type LocalSynthesizer struct {
	engine Engine

	mu      sync.Mutex
	cancel  context.CancelFunc
	voices  []LocalVoice
	loaded  bool
	listing sync.Mutex
}

// NewLocalSynthesizer creates a synthesizer. A nil engine makes every Speak
// complete immediately with ErrLocalUnavailable.
func NewLocalSynthesizer(engine Engine) *LocalSynthesizer {
	return &LocalSynthesizer{engine: engine}
}

// Available reports whether an engine is configured
func (l *LocalSynthesizer) Available() bool {
	return l.engine != nil
}

// EngineName returns the engine name, or "" when none is available
func (l *LocalSynthesizer) EngineName() string {
	if l.engine == nil {
		return ""
	}
	return l.engine.Name()
}

// Voices returns the engine's voices. A successful listing is cached.
func (l *LocalSynthesizer) Voices(ctx context.Context) ([]LocalVoice, error) {
	if l.engine == nil {
		return nil, ErrLocalUnavailable
	}

	l.listing.Lock()
	defer l.listing.Unlock()
	if l.loaded {
		return l.voices, nil
	}

	voices, err := l.engine.Voices(ctx)
	if err != nil {
		return nil, err
	}
	l.voices = voices
	l.loaded = true
	log.Debug().Str("engine", l.engine.Name()).Int("count", len(voices)).Msg("Loaded local voices")
	return voices, nil
}

// Speak starts speaking text and returns at once. The completion resolves
// exactly once, when the process exits, fails, or is cancelled.
func (l *LocalSynthesizer) Speak(text, lang string, speed float64) *Completion {
	if l.engine == nil {
		log.Warn().Msg("No local speech engine found, skipping utterance")
		return Resolved(ErrLocalUnavailable)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = cancel
	l.mu.Unlock()

	completion := NewCompletion()
	go func() {
		defer cancel()
		completion.Resolve(l.run(ctx, text, lang, speed))
	}()
	return completion
}

func (l *LocalSynthesizer) run(ctx context.Context, text, lang string, speed float64) error {
	listCtx, cancelList := context.WithTimeout(ctx, 3*time.Second)
	voices, err := l.Voices(listCtx)
	cancelList()
	if err != nil {
		log.Debug().Err(err).Msg("Could not list local voices, using engine default")
	}

	voice := SelectVoice(voices, lang)
	wpm := wordsPerMinute(speed)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	cmd := l.engine.Command(ctx, text, voice, wpm)

	event := log.Debug().Str("engine", l.engine.Name()).Str("lang", lang).Int("wpm", wpm)
	if voice != nil {
		event = event.Str("voice", voice.ID)
	}
	event.Msg("Speaking locally")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with code %d", l.engine.Name(), exitErr.ExitCode())
		}
		return fmt.Errorf("failed to run %s: %w", l.engine.Name(), err)
	}
	return nil
}

// Cancel stops the current local utterance, if any
func (l *LocalSynthesizer) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func wordsPerMinute(speed float64) int {
	if speed <= 0 {
		speed = 1
	}
	return int(math.Round(baseWordsPerMinute * speed))
}
