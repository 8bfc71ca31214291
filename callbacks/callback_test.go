package callbacks_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
)

type fakeAssistant struct{ name string }

func (a *fakeAssistant) Name() string { return a.name }
func (a *fakeAssistant) ProcessQuery(context.Context, string) (*assistants.Result, error) {
	return nil, nil
}

type fakeModel struct{}

func (fakeModel) GetProviderType() llms.ProviderType { return llms.ProviderAnthropic }
func (fakeModel) GetName() string                    { return "fake-model" }
func (fakeModel) GenerateContent(context.Context, []llms.Message, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, nil
}

func emit(ctx context.Context, cb assistants.Callback) {
	ast := &fakeAssistant{name: "test-assistant"}
	msgs := []llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "test input")}

	cb.OnAssistantStart(ctx, ast, "test input")
	cb.OnAssistantLLMCallStart(ctx, ast, fakeModel{}, msgs)
	cb.OnAssistantLLMCallEnd(ctx, ast, fakeModel{}, &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "test output"}},
	})
	cb.OnText(ctx, ast, "test output")
	cb.OnToolStart(ctx, ast, "test-tool", `{"topic":"ai"}`)
	cb.OnToolEnd(ctx, ast, "test-tool", `{"topic":"ai"}`, "tool output")
	cb.OnToolError(ctx, ast, "test-tool", `{}`, "Tool 'test-tool' failed")
	cb.OnAssistantEnd(ctx, ast, "test input", &assistants.Result{LLMCalls: 2, ToolCalls: 1, Text: "test output"})
	cb.OnAssistantError(ctx, ast, "test input", errors.New("test error"), msgs)
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	emit(context.Background(), callbacks.NewPrinter(&buf, callbacks.ModeDefault))

	res := buf.String()
	assert.Contains(t, res, "test output\n")
	assert.Contains(t, res, `Calling tool 'test-tool' with args: {"topic":"ai"}`)
	assert.Contains(t, res, "❌ Error calling tool 'test-tool': Tool 'test-tool' failed")
	assert.NotContains(t, res, "test error")
	assert.NotContains(t, res, "Assistant Start")
	assert.NotContains(t, res, "tool output")
}

func TestPrinter_Verbose(t *testing.T) {
	var buf bytes.Buffer
	emit(context.Background(), callbacks.NewPrinter(&buf, callbacks.ModeVerbose))

	res := buf.String()
	assert.Contains(t, res, "Assistant Start: test-assistant")
	assert.Contains(t, res, "Assistant LLM Call: test-assistant: fake-model model, 1 messages")
	assert.Contains(t, res, "Assistant LLM Call End: test-assistant: fake-model model, 1 blocks")
	assert.Contains(t, res, "Tool End: test-tool")
	assert.Contains(t, res, "Output: tool output")
	assert.Contains(t, res, "Assistant End: test-assistant: 2 model calls, 1 tool calls")
	assert.Contains(t, res, "Assistant Error: test-assistant: test error")
}

func TestPrinter_Streamed(t *testing.T) {
	var buf bytes.Buffer
	p := callbacks.NewPrinter(&buf, callbacks.ModeDefault)
	p.Streamed = true

	p.OnText(context.Background(), &fakeAssistant{name: "a"}, "already streamed")
	assert.Equal(t, "\n", buf.String())
}

func TestFanout(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	fanout := callbacks.NewFanout(callbacks.NewPrinter(&buf1, callbacks.ModeDefault))
	fanout.Add(callbacks.NewPrinter(&buf2, callbacks.ModeDefault))

	emit(context.Background(), fanout)
	assert.NotEmpty(t, buf1.String())
	assert.Equal(t, buf1.String(), buf2.String())
}

func TestNoopAndLogger(t *testing.T) {
	// must not panic
	emit(context.Background(), callbacks.NewNoop())
	emit(context.Background(), callbacks.NewPackageLogger(xlog.NewPackageLogger("github.com/effective-security/mcpchat", "callbacks_test")))
}
