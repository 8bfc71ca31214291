package assistants_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/dispatch"
	"github.com/effective-security/mcpchat/mocks/mockllms"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type invocation struct {
	Name string
	Args string
}

type fakeDispatcher struct {
	lock    sync.Mutex
	calls   []invocation
	results map[string]dispatch.ToolResult
}

func (d *fakeDispatcher) InvokeTool(_ context.Context, name string, args json.RawMessage) dispatch.ToolResult {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.calls = append(d.calls, invocation{Name: name, Args: string(args)})
	if res, ok := d.results[name]; ok {
		return res
	}
	return dispatch.ToolResult{Text: "Tool '" + name + "' not found in any connected server", IsError: true}
}

var searchTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "search_papers",
		Description: "Search arXiv",
	},
}

func textResponse(texts ...string) *llms.ContentResponse {
	resp := &llms.ContentResponse{}
	for _, text := range texts {
		resp.Choices = append(resp.Choices, &llms.ContentChoice{Content: text, StopReason: "end_turn"})
	}
	return resp
}

func toolCall(id, name, args string) *llms.ContentChoice {
	return &llms.ContentChoice{
		StopReason: "tool_use",
		ToolCalls: []llms.ToolCall{{
			ID:           id,
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

// recorder returns the DoAndReturn func that captures the payloads
// and replies with the responses in order.
func recorder(payloads *[][]llms.Message, responses ...*llms.ContentResponse) func(context.Context, []llms.Message, ...llms.CallOption) (*llms.ContentResponse, error) {
	idx := 0
	return func(_ context.Context, msgs []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
		*payloads = append(*payloads, append([]llms.Message(nil), msgs...))
		resp := responses[idx]
		if idx < len(responses)-1 {
			idx++
		}
		return resp, nil
	}
}

func newModel(ctrl *gomock.Controller) *mockllms.MockModel {
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("claude-test").AnyTimes()
	m.EXPECT().GetProviderType().Return(llms.ProviderAnthropic).AnyTimes()
	return m
}

func TestProcessQuery_SingleText(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newModel(ctrl)
	disp := &fakeDispatcher{}

	var payloads [][]llms.Message
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(recorder(&payloads, textResponse("Hi! How can I help?"))).
		Times(1)

	var out bytes.Buffer
	ast := assistants.NewAssistant(model, disp, []llms.Tool{searchTool},
		assistants.WithCallback(callbacks.NewPrinter(&out, callbacks.ModeDefault)),
	)
	assert.Equal(t, assistants.DefaultName, ast.Name())
	assert.Len(t, ast.GetTools(), 1)

	res, err := ast.ProcessQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi! How can I help?", res.Text)
	assert.Equal(t, 1, res.LLMCalls)
	assert.Equal(t, 0, res.ToolCalls)
	assert.NotEmpty(t, res.ChatID)
	assert.Empty(t, disp.calls)
	assert.Equal(t, "Hi! How can I help?\n", out.String())

	require.Len(t, payloads, 1)
	require.Len(t, payloads[0], 1)
	assert.Equal(t, llms.RoleHuman, payloads[0][0].Role)
	assert.Equal(t, "hello", payloads[0][0].GetContent())

	require.Len(t, res.Messages, 2)
	assert.Equal(t, llms.RoleAI, res.Messages[1].Role)
}

func TestProcessQuery_ToolUse(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newModel(ctrl)
	disp := &fakeDispatcher{
		results: map[string]dispatch.ToolResult{
			"search_papers": {Text: "[\"1234.5678\",\"2345.6789\"]"},
		},
	}

	first := &llms.ContentResponse{Choices: []*llms.ContentChoice{
		{Content: "I'll search for that."},
		toolCall("toolu_01", "search_papers", `{"topic":"physics","max_results":2}`),
	}}
	var payloads [][]llms.Message
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(recorder(&payloads, first, textResponse("Found two papers."))).
		Times(2)

	var out bytes.Buffer
	ast := assistants.NewAssistant(model, disp, []llms.Tool{searchTool},
		assistants.WithCallback(callbacks.NewPrinter(&out, callbacks.ModeDefault)),
	)
	res, err := ast.ProcessQuery(context.Background(), "find 2 physics papers")
	require.NoError(t, err)
	assert.Equal(t, "Found two papers.", res.Text)
	assert.Equal(t, 2, res.LLMCalls)
	assert.Equal(t, 1, res.ToolCalls)

	require.Len(t, disp.calls, 1)
	assert.Equal(t, "search_papers", disp.calls[0].Name)
	assert.JSONEq(t, `{"topic":"physics","max_results":2}`, disp.calls[0].Args)

	assert.Contains(t, out.String(), "I'll search for that.\n")
	assert.Contains(t, out.String(), `Calling tool 'search_papers' with args: {"topic":"physics","max_results":2}`)

	// human, assistant(text+tool_use), user(tool_result), assistant(text)
	require.Len(t, res.Messages, 4)
	ai := res.Messages[1]
	assert.Equal(t, llms.RoleAI, ai.Role)
	require.Len(t, ai.Parts, 2)
	assert.Equal(t, llms.TextPart("I'll search for that."), ai.Parts[0])
	tc, ok := ai.Parts[1].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "toolu_01", tc.ID)

	tr := res.Messages[2]
	assert.Equal(t, llms.RoleTool, tr.Role)
	require.Len(t, tr.Parts, 1)
	resp, ok := tr.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "toolu_01", resp.ToolCallID)
	assert.Equal(t, "search_papers", resp.Name)
	assert.Equal(t, "[\"1234.5678\",\"2345.6789\"]", resp.Content)
	assert.False(t, resp.IsError)

	// the second call sees the conversation with the tool result
	require.Len(t, payloads, 2)
	assert.Len(t, payloads[1], 3)
}

func TestProcessQuery_MultipleToolCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newModel(ctrl)
	disp := &fakeDispatcher{
		results: map[string]dispatch.ToolResult{
			"search_papers": {Text: "ids"},
			"extract_info":  {Text: "info"},
		},
	}

	first := &llms.ContentResponse{Choices: []*llms.ContentChoice{
		toolCall("", "search_papers", `{"topic":"ai"}`),
		toolCall("t2", "extract_info", ""),
	}}
	var payloads [][]llms.Message
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(recorder(&payloads, first, textResponse("done"))).
		Times(2)

	ast := assistants.NewAssistant(model, disp, []llms.Tool{searchTool})
	res, err := ast.ProcessQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ToolCalls)

	// dispatched sequentially, in order
	require.Len(t, disp.calls, 2)
	assert.Equal(t, "search_papers", disp.calls[0].Name)
	assert.Equal(t, "extract_info", disp.calls[1].Name)
	assert.Empty(t, disp.calls[1].Args)

	// human, ai(tool), tool, ai(tool), tool, ai(text)
	require.Len(t, res.Messages, 6)
	roles := []llms.Role{llms.RoleHuman, llms.RoleAI, llms.RoleTool, llms.RoleAI, llms.RoleTool, llms.RoleAI}
	for i, role := range roles {
		assert.Equal(t, role, res.Messages[i].Role, "message %d", i)
	}

	tc := res.Messages[1].Parts[0].(llms.ToolCall)
	assert.Equal(t, "search_papers_1_0", tc.ID)
	tr := res.Messages[2].Parts[0].(llms.ToolCallResponse)
	assert.Equal(t, tc.ID, tr.ToolCallID)
}

func TestProcessQuery_ToolError(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newModel(ctrl)
	disp := &fakeDispatcher{}

	first := &llms.ContentResponse{Choices: []*llms.ContentChoice{
		toolCall("t1", "get_weather", `{}`),
	}}
	var payloads [][]llms.Message
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(recorder(&payloads, first, textResponse("I can't check the weather."))).
		Times(2)

	var out bytes.Buffer
	ast := assistants.NewAssistant(model, disp, nil,
		assistants.WithCallback(callbacks.NewPrinter(&out, callbacks.ModeDefault)),
	)
	res, err := ast.ProcessQuery(context.Background(), "weather?")
	require.NoError(t, err)
	assert.Equal(t, "I can't check the weather.", res.Text)

	tr := res.Messages[2].Parts[0].(llms.ToolCallResponse)
	assert.True(t, tr.IsError)
	assert.Equal(t, "Tool 'get_weather' not found in any connected server", tr.Content)
	assert.Contains(t, out.String(), "❌ Error calling tool 'get_weather'")
}

func TestProcessQuery_Termination(t *testing.T) {
	t.Run("single_text continues on multiple texts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		model := newModel(ctrl)

		var payloads [][]llms.Message
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(recorder(&payloads, textResponse("part one", "part two"), textResponse("final"))).
			Times(2)

		ast := assistants.NewAssistant(model, &fakeDispatcher{}, nil)
		res, err := ast.ProcessQuery(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "final", res.Text)
		require.Len(t, res.Messages, 3)
		assert.Len(t, res.Messages[1].Parts, 2)
	})

	t.Run("no_tool_use ends on multiple texts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		model := newModel(ctrl)

		var payloads [][]llms.Message
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(recorder(&payloads, textResponse("part one", "part two"))).
			Times(1)

		ast := assistants.NewAssistant(model, &fakeDispatcher{}, nil,
			assistants.WithTermination(assistants.TerminateOnNoToolUse),
		)
		res, err := ast.ProcessQuery(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "part one\npart two", res.Text)
		assert.Equal(t, 1, res.LLMCalls)
	})

	t.Run("empty response", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		model := newModel(ctrl)
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{}, nil).
			Times(1)

		ast := assistants.NewAssistant(model, &fakeDispatcher{}, nil)
		res, err := ast.ProcessQuery(context.Background(), "q")
		require.NoError(t, err)
		assert.Empty(t, res.Text)
		assert.Len(t, res.Messages, 1)
	})
}

func TestProcessQuery_MaxTurns(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newModel(ctrl)
	disp := &fakeDispatcher{results: map[string]dispatch.ToolResult{"search_papers": {Text: "[]"}}}

	loop := &llms.ContentResponse{Choices: []*llms.ContentChoice{
		toolCall("", "search_papers", `{"topic":"loop"}`),
	}}
	var payloads [][]llms.Message
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(recorder(&payloads, loop)).
		Times(2)

	var out bytes.Buffer
	ast := assistants.NewAssistant(model, disp, []llms.Tool{searchTool},
		assistants.WithMaxTurns(2),
		assistants.WithCallback(callbacks.NewPrinter(&out, callbacks.ModeVerbose)),
	)
	_, err := ast.ProcessQuery(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, assistants.ErrMaxTurnsExceeded))
	assert.Len(t, disp.calls, 2)
	assert.Contains(t, out.String(), "Assistant Error: chatbot: assistant chatbot: 2 model calls: max turns exceeded")
}

func TestProcessQuery_ModelError(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newModel(ctrl)
	cause := errors.New("overloaded")
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, cause).
		Times(1)

	st := store.NewMemoryStore(0)
	ast := assistants.NewAssistant(model, &fakeDispatcher{}, nil, assistants.WithStore(st))

	ctx := chatmodel.WithChatContext(context.Background(), chatmodel.NewChatContext("s1", "c1"))
	res, err := ast.ProcessQuery(ctx, "q")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, assistants.ErrModelCall))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "failed to generate content from LLM: overloaded")

	// failed queries are not archived
	assert.Empty(t, st.Messages(ctx))
}

func TestProcessQuery_SystemPromptAndStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newModel(ctrl)

	var payloads [][]llms.Message
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(recorder(&payloads, textResponse("answer"))).
		Times(1)

	st := store.NewMemoryStore(0)
	ast := assistants.NewAssistant(model, &fakeDispatcher{}, nil,
		assistants.WithName("research"),
		assistants.WithSystemPrompt("You are a research assistant."),
		assistants.WithStore(st),
	)

	ctx := chatmodel.WithChatContext(context.Background(), chatmodel.NewChatContext("s1", "c1"))
	res, err := ast.ProcessQuery(ctx, "what is new in physics?")
	require.NoError(t, err)
	assert.Equal(t, "c1", res.ChatID)

	require.Len(t, payloads, 1)
	require.Len(t, payloads[0], 2)
	assert.Equal(t, llms.RoleSystem, payloads[0][0].Role)
	assert.Equal(t, "You are a research assistant.", payloads[0][0].GetContent())

	// the system prompt is not part of the conversation
	require.Len(t, res.Messages, 2)
	assert.Equal(t, llms.RoleHuman, res.Messages[0].Role)

	assert.Len(t, st.Messages(ctx), 2)
	info, err := st.GetChatInfo(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "what is new in physics?", info.Title)
	assert.Equal(t, 1, info.Metadata["llm_calls"])
}
