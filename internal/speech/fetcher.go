package speech

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hegedustibor/htgo-tts/voices"
	"github.com/rs/zerolog/log"

	"github.com/daikw/cardspeak/internal/speech/provider"
)

// maxAudioBytes bounds a single fetched clip
const maxAudioBytes = 16 << 20

// Fetcher obtains remote audio for text, detecting the language when the
// caller does not supply one
type Fetcher struct {
	provider provider.Provider
	detector provider.Detector
}

// NewFetcher creates a fetcher. detector may be nil, in which case an absent
// language is treated as English.
func NewFetcher(p provider.Provider, detector provider.Detector) *Fetcher {
	return &Fetcher{provider: p, detector: detector}
}

// ProviderName returns the name of the backing provider
func (f *Fetcher) ProviderName() string {
	return f.provider.Name()
}

// Voices lists the backing provider's voices
func (f *Fetcher) Voices(ctx context.Context) ([]provider.Voice, error) {
	return f.provider.ListVoices(ctx)
}

// DetectLanguage returns the language of text, or "en" on any failure
func (f *Fetcher) DetectLanguage(ctx context.Context, text string) string {
	if f.detector == nil {
		return voices.English
	}
	lang, err := f.detector.DetectLanguage(ctx, text)
	if err != nil || lang == "" {
		log.Debug().Err(err).Msg("Language detection failed, using English")
		return voices.English
	}
	return lang
}

// Fetch returns audio for text along with the language it was spoken in.
// Errors wrap ErrRemoteUnavailable. The resolved language is returned even
// when the fetch fails so callers can reuse it for local synthesis.
func (f *Fetcher) Fetch(ctx context.Context, text, lang string) (*Audio, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, lang, fmt.Errorf("%w: empty text", ErrRemoteUnavailable)
	}

	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = f.DetectLanguage(ctx, text)
	}

	rc, err := f.provider.Synthesize(ctx, text, provider.SynthesizeOptions{
		Language: lang,
		Format:   "mp3",
	})
	if err != nil {
		return nil, lang, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxAudioBytes))
	if err != nil {
		return nil, lang, fmt.Errorf("%w: reading audio: %w", ErrRemoteUnavailable, err)
	}
	if len(data) == 0 {
		return nil, lang, fmt.Errorf("%w: empty audio from %s", ErrRemoteUnavailable, f.provider.Name())
	}

	log.Debug().
		Str("provider", f.provider.Name()).
		Str("lang", lang).
		Int("bytes", len(data)).
		Msg("Fetched remote speech")

	return &Audio{Data: data, MIMEType: "audio/mpeg"}, lang, nil
}
