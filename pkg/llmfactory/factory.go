package llmfactory

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llms/anthropic"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "llmfactory")

// ProviderAnthropic is the provider of the model, if not configured.
const ProviderAnthropic = "anthropic"

// NewLLM is a wrapper for CreateLLM to allow for overriding the default implementation.
var NewLLM = CreateLLM

// CreateLLM returns the model client for the configuration.
func CreateLLM(cfg *config.Model) (llms.Model, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderAnthropic
	}

	var model llms.Model
	var err error
	switch provider {
	case ProviderAnthropic:
		model, err = newAnthropic(cfg)
	default:
		return nil, errors.WithMessagef(config.ErrInvalidConfig, "unsupported model provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, errors.WithMessage(err, "unable to create the model client")
	}

	logger.KV(xlog.DEBUG,
		"status", "created",
		"provider", provider,
		"model", model.GetName(),
	)
	return model, nil
}

func newAnthropic(cfg *config.Model) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithCacheTools(cfg.CacheTools),
	}
	if cfg.Token != "" {
		opts = append(opts, anthropic.WithToken(cfg.Token))
	}
	if cfg.Name != "" {
		opts = append(opts, anthropic.WithModel(cfg.Name))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, anthropic.WithMaxTokens(cfg.MaxTokens))
	}
	return anthropic.New(opts...)
}
