package provider

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/types"
)

// Backend kinds accepted in ProviderConfig.Kind.
const (
	KindOpenAICompat = "openai-compat"
	KindGemini       = "gemini"
	KindStatic       = "static"
)

// Build constructs the adapter for one provider config. Credentials are
// resolved from the environment variable the config names; a missing
// credential is a configuration error for kinds that need one.
func Build(ctx context.Context, cfg types.ProviderConfig, logger *zap.Logger) (types.Backend, error) {
	apiKey := ""
	if cfg.CredentialEnv != "" {
		apiKey = os.Getenv(cfg.CredentialEnv)
	}

	switch cfg.Kind {
	case KindOpenAICompat:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: provider %q needs base_url", types.ErrConfiguration, cfg.Name)
		}
		return NewHTTPBackend(cfg, apiKey, logger), nil
	case KindGemini:
		return NewGeminiBackend(ctx, cfg, apiKey, logger)
	case KindStatic:
		return NewStaticBackend(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider kind %q", types.ErrConfiguration, cfg.Kind)
	}
}

// BuildAll constructs adapters for every enabled provider, skipping
// disabled entries. One bad config fails the whole build so misconfiguration
// is caught at startup, not mid-loop.
func BuildAll(ctx context.Context, cfgs []types.ProviderConfig, logger *zap.Logger) (map[string]types.Backend, error) {
	backends := make(map[string]types.Backend, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		backend, err := Build(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		backends[cfg.Name] = backend
	}
	return backends, nil
}
