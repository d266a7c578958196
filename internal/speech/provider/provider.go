package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Provider defines the interface for remote phrase-to-speech backends
type Provider interface {
	// Name returns the provider name
	Name() string

	// ListVoices returns available voices for this provider
	ListVoices(ctx context.Context) ([]Voice, error)

	// Synthesize generates audio from text and returns an audio stream
	Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error)

	// IsAvailable checks if the provider can currently be used
	IsAvailable(ctx context.Context) bool
}

// Detector resolves the language of a piece of text
type Detector interface {
	DetectLanguage(ctx context.Context, text string) (string, error)
}

// Voice represents a voice option
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	Gender      string `json:"gender,omitempty"`
	Description string `json:"description,omitempty"`
}

// SynthesizeOptions contains options for text synthesis
type SynthesizeOptions struct {
	Language string `json:"language,omitempty"` // BCP 47 code, e.g. "en" or "ja-JP"
	Voice    string `json:"voice,omitempty"`    // provider-specific voice id
	Format   string `json:"format,omitempty"`   // mp3 unless the provider says otherwise
}

// StatusError reports a non-success HTTP status from a remote endpoint
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// regionalDefaults maps bare language codes to the region the cloud
// providers expect.
var regionalDefaults = map[string]string{
	"ar": "arb",
	"de": "de-DE",
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"hi": "hi-IN",
	"it": "it-IT",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"nl": "nl-NL",
	"pl": "pl-PL",
	"pt": "pt-BR",
	"ru": "ru-RU",
	"sv": "sv-SE",
	"tr": "tr-TR",
	"zh": "cmn-CN",
}

// regionalLanguage turns "en" or "en_gb" into a regional code such as "en-US"
// or "en-GB". Unknown bare codes are returned unchanged.
func regionalLanguage(lang string) string {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if lang == "" {
		return regionalDefaults["en"]
	}

	parts := strings.SplitN(lang, "-", 2)
	base := strings.ToLower(parts[0])
	if len(parts) == 2 && parts[1] != "" {
		return base + "-" + strings.ToUpper(parts[1])
	}
	if regional, ok := regionalDefaults[base]; ok {
		return regional
	}
	return base
}
