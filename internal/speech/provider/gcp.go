package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPClient is the subset of the Cloud Text-to-Speech client we use
type GCPClient interface {
	ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, opts ...gax.CallOption) (*texttospeechpb.ListVoicesResponse, error)
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

// GCPProvider implements the Provider interface for Google Cloud Text-to-Speech
type GCPProvider struct {
	client GCPClient
	voice  string
}

// NewGCPProvider creates a new Google Cloud TTS provider.
// Authentication is handled via GOOGLE_APPLICATION_CREDENTIALS or
// Application Default Credentials.
func NewGCPProvider(ctx context.Context, voice string) (*GCPProvider, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP TTS client: %w", err)
	}
	return &GCPProvider{client: client, voice: voice}, nil
}

// Name returns the provider name
func (p *GCPProvider) Name() string {
	return "gcp"
}

// ListVoices returns available voices from Google Cloud TTS
func (p *GCPProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	resp, err := p.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list GCP voices: %w", classifyGRPC(err))
	}

	var voices []Voice
	for _, v := range resp.Voices {
		gender := "unknown"
		switch v.SsmlGender {
		case texttospeechpb.SsmlVoiceGender_MALE:
			gender = "male"
		case texttospeechpb.SsmlVoiceGender_FEMALE:
			gender = "female"
		case texttospeechpb.SsmlVoiceGender_NEUTRAL:
			gender = "neutral"
		}

		for _, langCode := range v.LanguageCodes {
			voices = append(voices, Voice{
				ID:          v.Name,
				Name:        v.Name,
				Language:    langCode,
				Gender:      gender,
				Description: fmt.Sprintf("%s voice", detectEngineType(v.Name)),
			})
		}
	}

	log.Debug().Int("count", len(voices)).Msg("Listed GCP TTS voices")
	return voices, nil
}

// Synthesize generates audio from text using Google Cloud TTS
func (p *GCPProvider) Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	voice := p.voice
	if options.Voice != "" {
		voice = options.Voice
	}

	lang := regionalLanguage(options.Language)
	// A fixed voice only applies when it speaks the requested language
	if voice != "" && !strings.HasPrefix(strings.ToLower(voice), strings.ToLower(lang)) {
		voice = ""
	}

	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: lang,
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: audioEncoding(options.Format),
		},
	}

	log.Debug().
		Str("voice", voice).
		Str("language", lang).
		Msg("Making GCP TTS synthesis request")

	resp, err := p.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", classifyGRPC(err))
	}

	log.Debug().Int("audio_bytes", len(resp.AudioContent)).Msg("GCP TTS synthesis successful")

	return io.NopCloser(bytes.NewReader(resp.AudioContent)), nil
}

// IsAvailable checks if the GCP TTS service is available
func (p *GCPProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	return err == nil
}

// Close closes the GCP client
func (p *GCPProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func audioEncoding(format string) texttospeechpb.AudioEncoding {
	switch strings.ToLower(format) {
	case "ogg", "ogg_opus":
		return texttospeechpb.AudioEncoding_OGG_OPUS
	case "wav", "linear16":
		return texttospeechpb.AudioEncoding_LINEAR16
	default:
		return texttospeechpb.AudioEncoding_MP3
	}
}

func detectEngineType(voiceName string) string {
	name := strings.ToLower(voiceName)
	switch {
	case strings.Contains(name, "wavenet"):
		return "WaveNet"
	case strings.Contains(name, "neural2"):
		return "Neural2"
	case strings.Contains(name, "studio"):
		return "Studio"
	case strings.Contains(name, "chirp"):
		return "Chirp"
	default:
		return "Standard"
	}
}

// classifyGRPC rewrites transport-level gRPC failures into readable errors.
// Other errors pass through unchanged.
func classifyGRPC(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("gcp tts unreachable (%s): %w", status.Code(err), err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("gcp tts credentials rejected (%s): %w", status.Code(err), err)
	case codes.ResourceExhausted:
		return fmt.Errorf("gcp tts quota exhausted: %w", err)
	}
	return err
}
