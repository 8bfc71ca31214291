package llmfactory_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/pkg/llmfactory"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llms/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CreateLLM(t *testing.T) {
	t.Setenv(anthropic.TokenEnvVarName, "fakekey")

	model, err := llmfactory.CreateLLM(&config.Model{})
	require.NoError(t, err)
	assert.Equal(t, anthropic.DefaultModel, model.GetName())
	assert.Equal(t, llms.ProviderAnthropic, model.GetProviderType())

	model, err = llmfactory.CreateLLM(&config.Model{
		Provider:   "Anthropic",
		Name:       "claude-3-5-sonnet-20241022",
		Token:      "token",
		BaseURL:    "http://localhost:8080",
		MaxTokens:  1024,
		CacheTools: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet-20241022", model.GetName())

	llm := model.(*anthropic.LLM)
	assert.Equal(t, "token", llm.Options.Token)
	assert.Equal(t, "http://localhost:8080", llm.Options.BaseURL)
	assert.Equal(t, 1024, llm.Options.MaxTokens)
	assert.True(t, llm.Options.CacheTools)
}

func Test_CreateLLM_Errors(t *testing.T) {
	t.Setenv(anthropic.TokenEnvVarName, "")

	_, err := llmfactory.CreateLLM(&config.Model{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, anthropic.ErrMissingToken))

	_, err = llmfactory.CreateLLM(&config.Model{Provider: "openai", Token: "token"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}
