package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Config selects and configures a remote provider
type Config struct {
	Name      string        // translate, polly or gcp
	BaseURL   string        // translate endpoint override
	UserAgent string        // translate User-Agent override
	Timeout   time.Duration // per-request timeout for HTTP providers
	Region    string        // polly region
	Voice     string        // fixed voice id for polly or gcp
}

// ListProviders returns available provider names
func ListProviders() []string {
	return []string{"translate", "polly", "gcp"}
}

// New creates a provider from cfg. An empty name selects translate.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Name {
	case "", "translate":
		return NewTranslateProvider(providerOptions(cfg)...), nil
	case "polly":
		p, err := NewPollyProvider(ctx, cfg.Region, cfg.Voice)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "gcp":
		p, err := NewGCPProvider(ctx, cfg.Voice)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Name)
	}
}

// NewDetector creates the language detector matching cfg's timeout
func NewDetector(cfg Config) Detector {
	opts := []TranslateOption{}
	if cfg.Timeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, WithUserAgent(cfg.UserAgent))
	}
	return NewTranslateDetector(opts...)
}

func providerOptions(cfg Config) []TranslateOption {
	var opts []TranslateOption
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, WithUserAgent(cfg.UserAgent))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return opts
}
