// Package narrator generates story beats. A Dispatcher walks a chain
// of configured backends with bounded per-attempt timeouts, validates
// their output and, when the whole chain is down, can fall back to the
// deterministic offline tale so the system stays playable.
package narrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bowerhall/meshtale/internal/logger"
	"github.com/bowerhall/meshtale/internal/story"
)

// OpenAI-compatible providers and their base URLs.
var openAICompatibleProviders = map[string]string{
	"groq":      "https://api.groq.com/openai/v1",
	"mistral":   "https://api.mistral.ai/v1",
	"together":  "https://api.together.xyz/v1",
	"deepseek":  "https://api.deepseek.com/v1",
	"fireworks": "https://api.fireworks.ai/inference/v1",
}

func newBackend(cfg Config) (Backend, error) {
	switch cfg.Provider {
	case "claude":
		return newClaude(cfg.APIKey, cfg.Model), nil
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}

		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}

		return newOpenAICompatible("openai", cfg.APIKey, baseURL, model), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}

		model := cfg.Model
		if model == "" {
			model = "qwen2:0.5b"
		}

		// Ollama's OpenAI-compatible endpoint
		return newOpenAICompatible("ollama", "ollama", baseURL+"/v1", model), nil
	default:
		if baseURL, ok := openAICompatibleProviders[cfg.Provider]; ok {
			if cfg.BaseURL != "" {
				baseURL = cfg.BaseURL
			}
			return newOpenAICompatible(cfg.Provider, cfg.APIKey, baseURL, cfg.Model), nil
		}
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// Dispatcher runs the backend chain for beat generation.
type Dispatcher struct {
	backends []Backend
	timeout  time.Duration
	offline  bool
}

// New builds a dispatcher from provider configs, tried in order.
// offline enables the canned fallback tale once the chain is
// exhausted; with it disabled, exhaustion surfaces as a typed failure.
func New(cfgs []Config, timeout time.Duration, offline bool) (*Dispatcher, error) {
	backends := make([]Backend, 0, len(cfgs))
	for _, cfg := range cfgs {
		b, err := newBackend(cfg)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Dispatcher{backends: backends, timeout: timeout, offline: offline}, nil
}

// NewOffline builds a dispatcher with no backends that always serves
// the canned tale.
func NewOffline() *Dispatcher {
	return &Dispatcher{offline: true}
}

// NextBeat asks the chain for the next beat of a session. Each backend
// gets one bounded attempt; unusable output counts as that backend
// failing. The returned error is always one of the typed failure
// classes.
func (d *Dispatcher) NextBeat(ctx context.Context, theme string, events []story.Event) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	system, user := story.BuildPrompt(theme, events)

	var lastErr error
	for _, b := range d.backends {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		raw, err := b.Complete(attemptCtx, system, user)
		cancel()

		if err != nil {
			lastErr = classify(err, b.Provider())
			logger.Warn("narrator backend failed", "provider", b.Provider(), "error", err)

			if ctx.Err() != nil {
				// the caller's window expired, nothing left can answer in time
				return Result{}, fmt.Errorf("%w: %s", ErrTimeout, b.Provider())
			}
			continue
		}

		beat, err := story.ParseBeat(raw)
		if err != nil {
			lastErr = fmt.Errorf("%w: %s: %v", ErrMalformed, b.Provider(), err)
			logger.Warn("narrator output rejected", "provider", b.Provider(), "error", err)
			continue
		}

		logger.Debug("beat generated", "provider", b.Provider(), "choices", len(beat.Choices))
		return Result{Beat: beat, Source: b.Provider()}, nil
	}

	if d.offline {
		return Result{Beat: story.OfflineBeat(theme, events), Source: SourceOffline}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no backends configured", ErrUnreachable)
	}
	return Result{}, lastErr
}

func classify(err error, provider string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", ErrTimeout, provider)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, provider, err)
}
