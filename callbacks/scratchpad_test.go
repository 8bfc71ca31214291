package callbacks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAssistant struct{ name string }

func (a *testAssistant) Name() string { return a.name }
func (a *testAssistant) ProcessQuery(context.Context, string) (*assistants.Result, error) {
	return nil, nil
}

type testModel struct{}

func (testModel) GetProviderType() llms.ProviderType { return llms.ProviderAnthropic }
func (testModel) GetName() string                    { return "test-model" }
func (testModel) GenerateContent(context.Context, []llms.Message, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, nil
}

func newTestChatContext() (context.Context, chatmodel.ChatContext) {
	chatCtx := chatmodel.NewChatContext("session1", "chatid")
	ctx := chatmodel.WithChatContext(context.Background(), chatCtx)
	return ctx, chatCtx
}

func TestScratchpad_StartRun_EndRun(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeDefault)
	ctx, cctx := newTestChatContext()
	sp.StartRun(ctx)

	r := sp.runs[cctx.GetChatID()]
	require.NotNil(t, r)
	r.stats.QueriesSucceeded = 1
	r.stats.QueriesFailed = 1
	r.stats.ToolsCalls = 3
	r.stats.ToolsCallsFailed = 2
	r.stats.LLMCalls = 1
	r.stats.TotalMessages = 4
	r.stats.LLMBytesOut = 10
	r.stats.LLMBytesIn = 11

	stats, buf := sp.EndRun(ctx)
	require.NotNil(t, stats)
	assert.Equal(t, "chatid", stats.ChatID)
	assert.Len(t, stats.RunID, 8)
	require.Contains(t, string(buf), "Run Started")
	require.Contains(t, string(buf), "Run Ended")
	require.Contains(t, string(buf), "Queries: 2, Failed: 1")
	require.Contains(t, string(buf), "Tool calls: 3, Failed: 2")
	require.Contains(t, string(buf), "Bytes Total: 21")

	_, ok := sp.runs[cctx.GetChatID()]
	assert.False(t, ok)

	s2, _ := sp.EndRun(ctx)
	assert.Nil(t, s2)
}

func TestScratchpad_getRun_nil(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeDefault)
	assert.Nil(t, sp.getRun(context.Background()))
	sp.StartRun(context.Background())
	assert.Empty(t, sp.runs)

	ctx, _ := newTestChatContext()
	assert.Nil(t, sp.getRun(ctx))
}

func TestScratchpad_OnCallbacks(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeVerbose)
	ctx, _ := newTestChatContext()
	sp.StartRun(ctx)

	ast := &testAssistant{name: "A1"}
	msgs := []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "foo"),
		llms.MessageFromToolCalls(llms.RoleAI, llms.ToolCall{ID: "t1", FunctionCall: &llms.FunctionCall{Name: "T1", Arguments: "{}"}}),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "t1", Name: "T1", Content: "bar"}),
	}
	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        "Answer 1",
			GenerationInfo: map[string]any{"InputTokens": 5, "OutputTokens": 7, "TotalTokens": 12},
		}},
	}

	sp.OnAssistantStart(ctx, ast, "input")
	sp.OnAssistantLLMCallStart(ctx, ast, testModel{}, msgs)
	sp.OnAssistantLLMCallEnd(ctx, ast, testModel{}, resp)
	sp.OnText(ctx, ast, "Answer 1")
	sp.OnToolStart(ctx, ast, "T1", "tinput")
	sp.OnToolEnd(ctx, ast, "T1", "tinput", "toutput")
	sp.OnToolError(ctx, ast, "T1", "tinput", "terr")
	sp.OnAssistantEnd(ctx, ast, "input", &assistants.Result{Text: "Answer 1", Messages: msgs})
	sp.OnAssistantError(ctx, ast, "input", errors.New("fail"), msgs)

	stats, output := sp.EndRun(ctx)
	require.NotNil(t, stats)
	assert.Equal(t, uint32(1), stats.LLMCalls)
	assert.Equal(t, uint32(3), stats.TotalMessages)
	assert.Equal(t, uint64(5), stats.LLMInputTokens)
	assert.Equal(t, uint64(12), stats.LLMTotalTokens)
	assert.Equal(t, uint32(1), stats.ToolsCalls)
	assert.Equal(t, uint32(1), stats.ToolsCallsSucceeded)
	assert.Equal(t, uint32(1), stats.ToolsCallsFailed)
	assert.Equal(t, uint32(1), stats.QueriesSucceeded)
	assert.Equal(t, uint32(1), stats.QueriesFailed)

	outStr := string(output)
	assert.Contains(t, outStr, "A1 *** Query Start ***")
	assert.Contains(t, outStr, "A1 *** Query End ***")
	assert.Contains(t, outStr, "A1 T1 *** Tool Start ***")
	assert.Contains(t, outStr, "A1 T1 *** Tool End ***")
	assert.Contains(t, outStr, "A1 T1 *** Tool Error *** terr")
	assert.Contains(t, outStr, "*** LLM Call *** test-model model, 3 messages")
	assert.Contains(t, outStr, "1 texts, 0 tool calls, 0 tool responses")
	assert.Contains(t, outStr, "0 texts, 1 tool calls, 0 tool responses")
	assert.Contains(t, outStr, "Text: Answer 1")
	assert.Contains(t, outStr, "*** Error *** fail")

	// no run: must not panic
	sp.OnAssistantStart(ctx, ast, "input")
	sp.OnAssistantEnd(ctx, ast, "input", &assistants.Result{})
	sp.OnAssistantLLMCallStart(ctx, ast, testModel{}, nil)
	sp.OnAssistantLLMCallEnd(ctx, ast, testModel{}, resp)
	sp.OnAssistantError(ctx, ast, "input", errors.New("fail2"), nil)
	sp.OnText(ctx, ast, "x")
	sp.OnToolStart(ctx, ast, "T1", "tinput")
	sp.OnToolEnd(ctx, ast, "T1", "tinput", "toutput")
	sp.OnToolError(ctx, ast, "T1", "tinput", "terr2")
}

func Test_run_print_format(t *testing.T) {
	r := &run{stats: RunStats{ChatID: "chat1", RunID: "run1"}}
	oldTimeFn := TimeNowFn
	TimeNowFn = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	defer func() { TimeNowFn = oldTimeFn }()

	r.print("hello", "again")
	lines := strings.Split(r.w.String(), "\n")
	require.NotEmpty(t, lines[0])
	assert.Equal(t, "2024-01-01 12:00:00 chat1.run1 hello again", lines[0])
}
