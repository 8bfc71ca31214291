package assistants_test

import (
	"context"
	"testing"

	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/store"
	"github.com/stretchr/testify/assert"
)

func Test_CallOptions(t *testing.T) {
	t.Parallel()

	cfg := assistants.NewConfig()
	assert.Equal(t, assistants.DefaultName, cfg.Name)
	assert.Equal(t, assistants.TerminateOnSingleText, cfg.Termination)
	assert.Empty(t, cfg.Model)
	assert.Equal(t, 0, cfg.MaxTurns)
	assert.Nil(t, cfg.StreamingFunc)
	assert.Nil(t, cfg.CallbackHandler)
	assert.Nil(t, cfg.Store)
	assert.Empty(t, cfg.GetCallOptions(nil))

	streamed := false
	cb := callbacks.NewNoop()
	st := store.NewMemoryStore(0)
	cfg = assistants.NewConfig(
		assistants.WithName(""),
		assistants.WithTermination(""),
		assistants.WithModel("claude-3-5-sonnet"),
		assistants.WithMaxTokens(2024),
		assistants.WithTemperature(0.2),
		assistants.WithMaxTurns(10),
		assistants.WithSystemPrompt("be brief"),
		assistants.WithCallback(cb),
		assistants.WithStore(st),
		assistants.WithStreamingFunc(func(context.Context, []byte) error {
			streamed = true
			return nil
		}),
	)
	assert.Equal(t, assistants.DefaultName, cfg.Name)
	assert.Equal(t, assistants.TerminateOnSingleText, cfg.Termination)
	assert.Equal(t, 10, cfg.MaxTurns)
	assert.Equal(t, "be brief", cfg.SystemPrompt)
	assert.Equal(t, cb, cfg.CallbackHandler)
	assert.Equal(t, st, cfg.Store)

	tools := []llms.Tool{searchTool}
	opts := cfg.GetCallOptions(tools)
	assert.Len(t, opts, 5)

	var callOpts llms.CallOptions
	for _, opt := range opts {
		opt(&callOpts)
	}
	assert.Equal(t, "claude-3-5-sonnet", callOpts.Model)
	assert.Equal(t, 2024, callOpts.MaxTokens)
	assert.Equal(t, 0.2, callOpts.Temperature)
	assert.Equal(t, tools, callOpts.Tools)
	if assert.NotNil(t, callOpts.StreamingFunc) {
		_ = callOpts.StreamingFunc(context.Background(), []byte("x"))
		assert.True(t, streamed)
	}

	// unset options are not sent, zero values are sent when set
	cfg = assistants.NewConfig(assistants.WithTemperature(0))
	opts = cfg.GetCallOptions(nil)
	assert.Len(t, opts, 1)
}

func TestTerminationPolicy(t *testing.T) {
	t.Parallel()

	text := &llms.ContentChoice{Content: "done"}
	tool := &llms.ContentChoice{ToolCalls: []llms.ToolCall{{ID: "t1", FunctionCall: &llms.FunctionCall{Name: "x"}}}}

	tcases := []struct {
		name       string
		resp       *llms.ContentResponse
		singleText bool
		noToolUse  bool
	}{
		{name: "nil", resp: nil, singleText: true, noToolUse: true},
		{name: "empty", resp: &llms.ContentResponse{}, singleText: true, noToolUse: true},
		{name: "text", resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{text}}, singleText: true, noToolUse: true},
		{name: "two texts", resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{text, text}}, singleText: false, noToolUse: true},
		{name: "tool", resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{tool}}, singleText: false, noToolUse: false},
		{name: "text and tool", resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{text, tool}}, singleText: false, noToolUse: false},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.singleText, assistants.TerminateOnSingleText.IsTerminal(tc.resp))
			assert.Equal(t, tc.noToolUse, assistants.TerminateOnNoToolUse.IsTerminal(tc.resp))
		})
	}
}
