package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const defaultPollyVoice = "Joanna"

// PollyClient interface defines the methods we need from the Polly client
type PollyClient interface {
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyProvider implements the Provider interface for Amazon Polly
type PollyProvider struct {
	client PollyClient
	region string
	voice  string // fixed voice; empty means pick by language

	mu         sync.Mutex
	voiceCache map[string]types.Voice
}

// NewPollyProvider creates a new Amazon Polly TTS provider
func NewPollyProvider(ctx context.Context, region, voice string) (*PollyProvider, error) {
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newPollyProvider(polly.NewFromConfig(cfg), region, voice), nil
}

func newPollyProvider(client PollyClient, region, voice string) *PollyProvider {
	return &PollyProvider{
		client:     client,
		region:     region,
		voice:      voice,
		voiceCache: make(map[string]types.Voice),
	}
}

// Name returns the provider name
func (p *PollyProvider) Name() string {
	return "polly"
}

// ListVoices returns available Amazon Polly voices
func (p *PollyProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	result, err := p.client.DescribeVoices(ctx, &polly.DescribeVoicesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list Polly voices: %w", err)
	}

	voices := make([]Voice, 0, len(result.Voices))
	for _, v := range result.Voices {
		voice := Voice{
			ID:       string(v.Id),
			Name:     aws.ToString(v.Name),
			Language: string(v.LanguageCode),
			Description: fmt.Sprintf("%s voice, %s engine supported",
				cases.Title(language.English).String(string(v.Gender)),
				formatSupportedEngines(v.SupportedEngines)),
		}

		switch v.Gender {
		case types.GenderFemale:
			voice.Gender = "female"
		case types.GenderMale:
			voice.Gender = "male"
		}

		voices = append(voices, voice)
	}

	return voices, nil
}

// Synthesize generates MP3 audio from text. Without an explicit voice the
// first voice Polly lists for the language is used, preferring the neural engine.
func (p *PollyProvider) Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	format := options.Format
	if format == "" {
		format = "mp3"
	}
	var pollyFormat types.OutputFormat
	switch strings.ToLower(format) {
	case "mp3":
		pollyFormat = types.OutputFormatMp3
	case "ogg":
		pollyFormat = types.OutputFormatOggVorbis
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", format)
	}

	voiceID := options.Voice
	if voiceID == "" {
		voiceID = p.voice
	}
	engine := types.EngineStandard

	if voiceID == "" {
		v, err := p.voiceForLanguage(ctx, options.Language)
		if err != nil {
			return nil, err
		}
		voiceID = string(v.Id)
		if supportsEngine(v.SupportedEngines, types.EngineNeural) {
			engine = types.EngineNeural
		}
	}

	input := &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		VoiceId:      types.VoiceId(voiceID),
		OutputFormat: pollyFormat,
		Engine:       engine,
		TextType:     types.TextTypeText,
	}

	log.Debug().
		Str("voice_id", voiceID).
		Str("output_format", string(pollyFormat)).
		Str("engine", string(engine)).
		Msg("Making Polly synthesis request")

	result, err := p.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	return result.AudioStream, nil
}

func (p *PollyProvider) voiceForLanguage(ctx context.Context, lang string) (types.Voice, error) {
	code := regionalLanguage(lang)

	p.mu.Lock()
	cached, ok := p.voiceCache[code]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	result, err := p.client.DescribeVoices(ctx, &polly.DescribeVoicesInput{
		LanguageCode: types.LanguageCode(code),
	})
	if err != nil {
		return types.Voice{}, fmt.Errorf("failed to list Polly voices for language %s: %w", code, err)
	}

	chosen := types.Voice{Id: types.VoiceId(defaultPollyVoice), SupportedEngines: []types.Engine{types.EngineNeural}}
	if len(result.Voices) > 0 {
		chosen = result.Voices[0]
		for _, v := range result.Voices {
			if supportsEngine(v.SupportedEngines, types.EngineNeural) {
				chosen = v
				break
			}
		}
	} else {
		log.Warn().Str("language", code).Msg("No Polly voice for language, using default voice")
	}

	p.mu.Lock()
	p.voiceCache[code] = chosen
	p.mu.Unlock()

	return chosen, nil
}

// IsAvailable checks if Amazon Polly provider is available
func (p *PollyProvider) IsAvailable(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.DescribeVoices(checkCtx, &polly.DescribeVoicesInput{})
	return err == nil
}

func supportsEngine(engines []types.Engine, want types.Engine) bool {
	for _, e := range engines {
		if e == want {
			return true
		}
	}
	return false
}

// formatSupportedEngines formats the list of supported engines for display
func formatSupportedEngines(engines []types.Engine) string {
	if len(engines) == 0 {
		return "unknown"
	}

	names := make([]string, len(engines))
	for i, engine := range engines {
		names[i] = string(engine)
	}
	return strings.Join(names, ", ")
}
