package speech

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptEngine runs a fixed binary so tests don't depend on a real speech engine
type scriptEngine struct {
	bin    string
	args   []string
	voices []LocalVoice

	mu        sync.Mutex
	lastVoice *LocalVoice
	lastWPM   int
	listCalls int
}

func (e *scriptEngine) Name() string { return "script" }

func (e *scriptEngine) Voices(context.Context) ([]LocalVoice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listCalls++
	return e.voices, nil
}

func (e *scriptEngine) Command(ctx context.Context, _ string, voice *LocalVoice, wpm int) *exec.Cmd {
	e.mu.Lock()
	e.lastVoice = voice
	e.lastWPM = wpm
	e.mu.Unlock()
	return exec.CommandContext(ctx, e.bin, e.args...)
}

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available", name)
	}
	return path
}

func waitCompletion(t *testing.T, c *Completion) error {
	t.Helper()
	select {
	case <-c.Done():
		return c.Err()
	case <-time.After(3 * time.Second):
		t.Fatal("completion never resolved")
		return nil
	}
}

func TestLocalSynthesizer_NoEngine(t *testing.T) {
	l := NewLocalSynthesizer(nil)
	assert.False(t, l.Available())
	assert.Empty(t, l.EngineName())

	c := l.Speak("hello", "en", 1.0)
	select {
	case <-c.Done():
	default:
		t.Fatal("completion should resolve immediately without an engine")
	}
	assert.ErrorIs(t, c.Err(), ErrLocalUnavailable)

	_, err := l.Voices(context.Background())
	assert.ErrorIs(t, err, ErrLocalUnavailable)
}

func TestLocalSynthesizer_SpeaksWithSelectedVoice(t *testing.T) {
	engine := &scriptEngine{bin: requireBinary(t, "true"), voices: testVoices}
	l := NewLocalSynthesizer(engine)

	require.NoError(t, waitCompletion(t, l.Speak("hola", "es-MX", 2.0)))

	engine.mu.Lock()
	require.NotNil(t, engine.lastVoice)
	assert.Equal(t, "Paulina", engine.lastVoice.ID)
	assert.Equal(t, 350, engine.lastWPM)
	engine.mu.Unlock()

	require.NoError(t, waitCompletion(t, l.Speak("hello", "en", 1.0)))
	engine.mu.Lock()
	assert.Equal(t, 1, engine.listCalls, "voice list is cached")
	engine.mu.Unlock()
}

func TestLocalSynthesizer_NewUtteranceCancelsPrevious(t *testing.T) {
	engine := &scriptEngine{bin: requireBinary(t, "sleep"), args: []string{"5"}}
	l := NewLocalSynthesizer(engine)

	first := l.Speak("one", "en", 1.0)
	time.Sleep(50 * time.Millisecond)
	second := l.Speak("two", "en", 1.0)

	assert.ErrorIs(t, waitCompletion(t, first), context.Canceled)

	l.Cancel()
	assert.ErrorIs(t, waitCompletion(t, second), context.Canceled)
}

func TestLocalSynthesizer_EngineFailure(t *testing.T) {
	engine := &scriptEngine{bin: requireBinary(t, "false")}
	l := NewLocalSynthesizer(engine)

	err := waitCompletion(t, l.Speak("hello", "en", 1.0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script exited with code 1")
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestLocalSynthesizer_CancelWhenIdle(t *testing.T) {
	l := NewLocalSynthesizer(&scriptEngine{bin: "true"})
	assert.NotPanics(t, func() {
		l.Cancel()
		l.Cancel()
	})
}

func TestEngineCommands(t *testing.T) {
	voice := &LocalVoice{ID: "Kyoko"}

	say := &SayEngine{Path: "/usr/bin/say"}
	cmd := say.Command(context.Background(), "-dash text", voice, 228)
	assert.Equal(t, []string{"/usr/bin/say", "-r", "228", "-v", "Kyoko", "--", "-dash text"}, cmd.Args)
	assert.Equal(t, "say", say.Name())

	espeak := &EspeakEngine{Path: "/usr/bin/espeak-ng"}
	cmd = espeak.Command(context.Background(), "hola", &LocalVoice{ID: "es"}, 175)
	assert.Equal(t, []string{"/usr/bin/espeak-ng", "-s", "175", "-p", "50", "-v", "es", "--", "hola"}, cmd.Args)

	cmd = espeak.Command(context.Background(), "hola", nil, 175)
	assert.Equal(t, []string{"/usr/bin/espeak-ng", "-s", "175", "-p", "50", "--", "hola"}, cmd.Args)
}

func TestWordsPerMinute(t *testing.T) {
	assert.Equal(t, 175, wordsPerMinute(1.0))
	assert.Equal(t, 175, wordsPerMinute(0))
	assert.Equal(t, 350, wordsPerMinute(2.0))
	assert.Equal(t, 88, wordsPerMinute(0.5))
}

func TestEngineByName(t *testing.T) {
	_, err := EngineByName("festival")
	assert.EqualError(t, err, "unknown speech engine: festival")

	t.Setenv("PATH", t.TempDir())
	_, err = EngineByName("espeak-ng")
	assert.ErrorIs(t, err, ErrLocalUnavailable)

	engine, err := EngineByName("")
	require.NoError(t, err)
	assert.Nil(t, engine, "nothing to detect on an empty PATH")
}
