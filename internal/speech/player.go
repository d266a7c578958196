package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNoPlayer is returned when no audio player binary was found
var ErrNoPlayer = errors.New("no audio player found")

// PlayerSpec describes how to invoke one external audio player
type PlayerSpec struct {
	Name string
	Path string
	// Args builds the argument list for file at the given playback rate
	Args func(file string, rate float64) []string
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 2, 64)
}

// knownPlayers are tried in order by DetectPlayer
var knownPlayers = []PlayerSpec{
	{
		Name: "afplay",
		Args: func(file string, rate float64) []string {
			return []string{"-r", formatRate(rate), file}
		},
	},
	{
		Name: "mpv",
		Args: func(file string, rate float64) []string {
			return []string{"--no-video", "--really-quiet", "--speed=" + formatRate(rate), file}
		},
	},
	{
		Name: "ffplay",
		Args: func(file string, rate float64) []string {
			return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-af", "atempo=" + formatRate(rate), file}
		},
	},
	{
		// mpg123 has no tempo control
		Name: "mpg123",
		Args: func(file string, _ float64) []string {
			return []string{"-q", file}
		},
	},
}

// DetectPlayer returns the first known player found on PATH
func DetectPlayer() (PlayerSpec, error) {
	for _, spec := range knownPlayers {
		if path, err := exec.LookPath(spec.Name); err == nil {
			spec.Path = path
			return spec, nil
		}
	}
	return PlayerSpec{}, ErrNoPlayer
}

// PlayerNames lists the players PlayerByName accepts, in detection order
func PlayerNames() []string {
	names := make([]string, 0, len(knownPlayers))
	for _, spec := range knownPlayers {
		names = append(names, spec.Name)
	}
	return names
}

// PlayerByName resolves a configured player name on PATH. An empty name
// detects the player.
func PlayerByName(name string) (PlayerSpec, error) {
	if name == "" {
		return DetectPlayer()
	}
	for _, spec := range knownPlayers {
		if spec.Name != name {
			continue
		}
		path, err := exec.LookPath(name)
		if err != nil {
			return PlayerSpec{}, fmt.Errorf("%w: %s not found: %w", ErrNoPlayer, name, err)
		}
		spec.Path = path
		return spec, nil
	}
	return PlayerSpec{}, fmt.Errorf("unknown audio player: %s", name)
}

// ExecPlayer plays audio clips through an external player process. Only one
// clip plays at a time; Play stops the previous clip.
type ExecPlayer struct {
	spec    PlayerSpec
	tempDir string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewExecPlayer creates a player for spec. An empty spec.Path makes every
// Play fail with ErrNoPlayer.
func NewExecPlayer(spec PlayerSpec) *ExecPlayer {
	return &ExecPlayer{spec: spec}
}

// Name returns the player binary name
func (p *ExecPlayer) Name() string {
	return p.spec.Name
}

// Play starts playback at rate and returns at once. The completion resolves
// when the player exits, fails, or is stopped.
func (p *ExecPlayer) Play(audio *Audio, rate float64) *Completion {
	if p.spec.Path == "" {
		return Resolved(ErrNoPlayer)
	}
	if audio == nil || len(audio.Data) == 0 {
		return Resolved(fmt.Errorf("no audio to play"))
	}

	file, err := writeTemp(p.tempDir, audio.Data)
	if err != nil {
		return Resolved(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.mu.Unlock()

	completion := NewCompletion()
	go func() {
		defer cancel()
		defer os.Remove(file)

		cmd := exec.CommandContext(ctx, p.spec.Path, p.spec.Args(file, rate)...)
		log.Debug().Str("player", p.spec.Name).Float64("rate", rate).Msg("Playing audio")

		err := cmd.Run()
		switch {
		case ctx.Err() != nil:
			completion.Resolve(ctx.Err())
		case err != nil:
			completion.Resolve(fmt.Errorf("failed to play audio with %s: %w", p.spec.Name, err))
		default:
			completion.Resolve(nil)
		}
	}()
	return completion
}

// Stop halts the current clip, if any
func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func writeTemp(dir string, data []byte) (string, error) {
	tmpFile, err := os.CreateTemp(dir, "cardspeak_*.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tmpFile.Close()

	if _, err := tmpFile.Write(data); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	return tmpFile.Name(), nil
}
