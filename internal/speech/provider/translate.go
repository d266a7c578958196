package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hegedustibor/htgo-tts/voices"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const (
	// DefaultTranslateTTSURL is the phrase-to-speech endpoint
	DefaultTranslateTTSURL = "https://translate.google.com/translate_tts"
	// DefaultDetectURL is the translation endpoint used for language detection
	DefaultDetectURL = "https://translate.googleapis.com/translate_a/single"
	// DefaultUserAgent is sent on every request; the endpoint refuses unknown clients
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// maxChunkRunes is the longest input the endpoint accepts per request
	maxChunkRunes = 200

	// defaultDetectTimeout bounds detection requests; audio fetches are only
	// canceled through their context
	defaultDetectTimeout = 15 * time.Second
)

// TranslateProvider speaks text through the Google Translate TTS endpoint
type TranslateProvider struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// TranslateOption configures a TranslateProvider or TranslateDetector
type TranslateOption func(*translateOptions)

type translateOptions struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// WithHTTPClient sets the HTTP client
func WithHTTPClient(client *http.Client) TranslateOption {
	return func(o *translateOptions) {
		o.httpClient = client
	}
}

// WithBaseURL overrides the endpoint URL
func WithBaseURL(baseURL string) TranslateOption {
	return func(o *translateOptions) {
		o.baseURL = baseURL
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(userAgent string) TranslateOption {
	return func(o *translateOptions) {
		o.userAgent = userAgent
	}
}

func buildTranslateOptions(defaultURL string, timeout time.Duration, opts []TranslateOption) translateOptions {
	o := translateOptions{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultURL,
		userAgent:  DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewTranslateProvider creates the default remote provider
func NewTranslateProvider(opts ...TranslateOption) *TranslateProvider {
	o := buildTranslateOptions(DefaultTranslateTTSURL, 0, opts)
	return &TranslateProvider{
		httpClient: o.httpClient,
		baseURL:    o.baseURL,
		userAgent:  o.userAgent,
	}
}

// Name returns the provider name
func (p *TranslateProvider) Name() string {
	return "translate"
}

// translateLanguages are the languages the endpoint is known to speak
var translateLanguages = []string{
	voices.English, voices.EnglishUK, voices.EnglishAU, voices.Afrikaans, voices.Albanian,
	voices.Arabic, voices.Armenian, voices.Bosnian, voices.Bulgarian, voices.Burmese,
	voices.Catalan, voices.Chinese, voices.Croatian, voices.Czech, voices.Danish,
	voices.Dutch, voices.Esperanto, voices.Estonian, voices.Finnish, voices.French,
	voices.German, voices.Greek, voices.Gujarati, voices.Hindi, voices.Hungarian,
	voices.Icelandic, voices.Indonesian, voices.Italian, voices.Japanese, voices.Javanese,
	voices.Kannada, voices.Khmer, voices.Korean, voices.Latin, voices.Latvian,
	voices.Macedonian, voices.Malay, voices.Malayalam, voices.Marathi, voices.Nepali,
	voices.Norwegian, voices.Polish, voices.Portuguese, voices.Romanian, voices.Russian,
	voices.Serbian, voices.Sinhala, voices.Slovak, voices.Spanish, voices.Sundanese,
	voices.Swahili, voices.Swedish, voices.Tagalog, voices.Tamil, voices.Telugu,
	voices.Thai, voices.Turkish, voices.Ukrainian, voices.Urdu, voices.Vietnamese,
	voices.Welsh,
}

// knownTranslateLanguage reports whether lang, or its base language, is in
// the voice table
func knownTranslateLanguage(lang string) bool {
	base, _, _ := strings.Cut(lang, "-")
	for _, code := range translateLanguages {
		if strings.EqualFold(code, lang) || strings.EqualFold(code, base) {
			return true
		}
	}
	return false
}

// ListVoices returns the languages the endpoint is known to speak. The
// endpoint has one voice per language, so voice ids are language codes.
func (p *TranslateProvider) ListVoices(_ context.Context) ([]Voice, error) {
	namer := display.English.Tags()

	result := make([]Voice, 0, len(translateLanguages))
	for _, code := range translateLanguages {
		name := code
		if tag, err := language.Parse(code); err == nil {
			if n := namer.Name(tag); n != "" {
				name = n
			}
		}
		result = append(result, Voice{
			ID:          code,
			Name:        name,
			Language:    code,
			Description: "Google Translate voice",
		})
	}
	return result, nil
}

// Synthesize fetches MP3 audio for text. Text over the per-request limit is
// split at word boundaries and the returned frames are concatenated.
func (p *TranslateProvider) Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	lang := strings.TrimSpace(options.Language)
	if lang == "" {
		lang = voices.English
	}
	if !knownTranslateLanguage(lang) {
		log.Debug().Str("lang", lang).Msg("Language not in the Translate voice table, requesting anyway")
	}

	chunks := splitChunks(text, maxChunkRunes)
	buf := bytes.NewBuffer(nil)

	log.Debug().
		Str("lang", lang).
		Int("chunks", len(chunks)).
		Int("text_length", len([]rune(text))).
		Msg("Making Translate TTS request")

	for idx, chunk := range chunks {
		audio, err := p.fetchChunk(ctx, chunk, lang, idx, len(chunks))
		if err != nil {
			return nil, err
		}
		buf.Write(audio)
	}

	return io.NopCloser(buf), nil
}

func (p *TranslateProvider) fetchChunk(ctx context.Context, text, lang string, idx, total int) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", lang)
	params.Set("ttsspeed", "1")
	params.Set("total", strconv.Itoa(total))
	params.Set("idx", strconv.Itoa(idx))
	params.Set("textlen", strconv.Itoa(len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translate tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Provider: "translate", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read translate tts response: %w", err)
	}
	return audio, nil
}

// IsAvailable reports whether the endpoint answers a one-word request
func (p *TranslateProvider) IsAvailable(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rc, err := p.Synthesize(checkCtx, "ok", SynthesizeOptions{Language: voices.English})
	if err != nil {
		return false
	}
	rc.Close()
	return true
}

// splitChunks splits text into pieces of at most limit runes, breaking at
// whitespace. A single word longer than limit is cut at the rune limit.
func splitChunks(text string, limit int) []string {
	if len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, string(current))
			current = current[:0]
		}
	}

	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > limit {
			flush()
			chunks = append(chunks, string(w[:limit]))
			w = w[limit:]
		}
		if len(current) > 0 && len(current)+1+len(w) > limit {
			flush()
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, w...)
	}
	flush()

	return chunks
}

// TranslateDetector detects languages with the public translation endpoint
type TranslateDetector struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewTranslateDetector creates a language detector
func NewTranslateDetector(opts ...TranslateOption) *TranslateDetector {
	o := buildTranslateOptions(DefaultDetectURL, defaultDetectTimeout, opts)
	return &TranslateDetector{
		httpClient: o.httpClient,
		baseURL:    o.baseURL,
		userAgent:  o.userAgent,
	}
}

// DetectLanguage returns the source language code reported for text. The
// response is a nested JSON array whose third element is the code.
func (d *TranslateDetector) DetectLanguage(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("text cannot be empty")
	}

	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", "auto")
	params.Set("tl", "en")
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Provider: "detect", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read detect response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("detect response is not valid JSON")
	}

	code := gjson.GetBytes(body, "2")
	if code.Type != gjson.String || strings.TrimSpace(code.String()) == "" {
		return "", fmt.Errorf("detect response has no language code")
	}
	return strings.TrimSpace(code.String()), nil
}
