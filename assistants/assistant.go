package assistants

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/dispatch"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llmutils"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "assistants")

var (
	// ErrModelCall is returned when the model endpoint fails, the query is
	// aborted.
	ErrModelCall = errors.New("model call failed")
	// ErrMaxTurnsExceeded is returned when the model calls limit per query is reached.
	ErrMaxTurnsExceeded = errors.New("max turns exceeded")
)

// ToolDispatcher invokes the tools requested by the model.
type ToolDispatcher interface {
	InvokeTool(ctx context.Context, name string, args json.RawMessage) dispatch.ToolResult
}

// Result is the outcome of a query.
type Result struct {
	// ChatID is the chat ID of the query
	ChatID string
	// Messages is the conversation, starting with the query
	Messages []llms.Message
	// Text is the text of the final model response
	Text string
	// LLMCalls is the number of model calls
	LLMCalls int
	// ToolCalls is the number of dispatched tool calls
	ToolCalls int
}

// Assistant drives the conversation between the model and the tools.
// It keeps no state between queries, and can be used concurrently.
type Assistant struct {
	LLM llms.Model

	dispatcher ToolDispatcher
	tools      []llms.Tool
	cfg        *Config
}

var _ IAssistant = (*Assistant)(nil)

// NewAssistant returns the assistant that offers the tools to the model,
// and invokes them with the dispatcher.
func NewAssistant(llmModel llms.Model, dispatcher ToolDispatcher, tools []llms.Tool, options ...Option) *Assistant {
	return &Assistant{
		LLM:        llmModel,
		dispatcher: dispatcher,
		tools:      tools,
		cfg:        NewConfig(options...),
	}
}

// Name returns the name of the Assistant.
func (a *Assistant) Name() string {
	return a.cfg.Name
}

// GetTools returns the tools offered to the model.
func (a *Assistant) GetTools() []llms.Tool {
	return a.tools
}

// Config returns the configuration.
func (a *Assistant) Config() *Config {
	return a.cfg
}

// ProcessQuery sends the query to the model and processes the responses
// until the termination policy ends the query.
// A model failure returns ErrModelCall, tool failures are reported back to the model.
func (a *Assistant) ProcessQuery(ctx context.Context, query string) (*Result, error) {
	started := time.Now()
	name := a.Name()
	defer metricskey.PerfQuery.MeasureSince(started, name)

	ctx, chatCtx := chatmodel.EnsureChatContext(ctx)

	callback := a.cfg.CallbackHandler
	if callback != nil {
		callback.OnAssistantStart(ctx, a, query)
	}

	result, err := a.run(ctx, query)
	result.ChatID = chatCtx.GetChatID()
	if err != nil {
		metricskey.StatsQueriesFailed.IncrCounter(1, name)
		if callback != nil {
			callback.OnAssistantError(ctx, a, query, err, result.Messages)
		}
		return nil, err
	}
	metricskey.StatsQueriesSucceeded.IncrCounter(1, name)

	a.archive(ctx, query, result)

	if callback != nil {
		callback.OnAssistantEnd(ctx, a, query, result)
	}
	return result, nil
}

// run returns the result with the conversation so far, also on error
func (a *Assistant) run(ctx context.Context, query string) (*Result, error) {
	cfg := a.cfg
	callback := cfg.CallbackHandler
	assistantName := cfg.Name
	modelName := a.LLM.GetName()
	callOpts := cfg.GetCallOptions(a.tools)

	result := &Result{
		Messages: []llms.Message{
			llms.MessageFromTextParts(llms.RoleHuman, query),
		},
	}

	for {
		if cfg.MaxTurns > 0 && result.LLMCalls >= cfg.MaxTurns {
			logger.ContextKV(ctx, xlog.WARNING,
				"assistant", assistantName,
				"status", "max_turns_exceeded",
				"input", slices.StringUpto(query, 64),
				"turns", result.LLMCalls,
			)
			return result, errors.Wrapf(ErrMaxTurnsExceeded, "assistant %s: %d model calls", assistantName, result.LLMCalls)
		}

		payload := result.Messages
		if cfg.SystemPrompt != "" {
			payload = append([]llms.Message{llms.MessageFromTextParts(llms.RoleSystem, cfg.SystemPrompt)}, result.Messages...)
		}

		if callback != nil {
			callback.OnAssistantLLMCallStart(ctx, a, a.LLM, payload)
		}

		bytesSent := llmutils.CountMessagesContentSize(payload)
		metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(payload)), assistantName, modelName)
		metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), assistantName, modelName)

		callStarted := time.Now()
		resp, err := a.LLM.GenerateContent(ctx, payload, callOpts...)
		metricskey.PerfLLMCall.MeasureSince(callStarted, assistantName, modelName)
		result.LLMCalls++
		if err != nil {
			metricskey.StatsLLMCallsFailed.IncrCounter(1, assistantName, modelName)
			return result, errors.Mark(errors.Wrap(err, "failed to generate content from LLM"), ErrModelCall)
		}
		if resp == nil {
			resp = &llms.ContentResponse{}
		}

		if callback != nil {
			callback.OnAssistantLLMCallEnd(ctx, a, a.LLM, resp)
		}

		metricskey.StatsLLMBytesReceived.IncrCounter(float64(llmutils.CountResponseContentSize(resp)), assistantName, modelName)
		tokensIn, tokensOut, _ := llmutils.CountTokens(resp)
		metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), assistantName, modelName)
		metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), assistantName, modelName)

		if len(resp.Choices) == 0 {
			logger.ContextKV(ctx, xlog.WARNING,
				"assistant", assistantName,
				"status", "empty_response",
				"input", slices.StringUpto(query, 64),
			)
		}

		var texts []string
		result.Messages, texts = a.processResponse(ctx, result, resp)

		if cfg.Termination.IsTerminal(resp) {
			result.Text = strings.Join(texts, "\n")
			logger.ContextKV(ctx, xlog.DEBUG,
				"assistant", assistantName,
				"status", "completed",
				"llm_calls", result.LLMCalls,
				"tool_calls", result.ToolCalls,
			)
			return result, nil
		}
	}
}

// processResponse appends the response blocks to the conversation.
// Each tool call flushes the pending assistant message, then the tool result
// is appended as a separate message.
func (a *Assistant) processResponse(ctx context.Context, result *Result, resp *llms.ContentResponse) ([]llms.Message, []string) {
	messages := result.Messages
	callback := a.cfg.CallbackHandler

	var pending []llms.ContentPart
	var texts []string

	for _, choice := range resp.Choices {
		if !choice.IsToolCall() {
			if choice.Content == "" {
				continue
			}
			texts = append(texts, choice.Content)
			if callback != nil {
				callback.OnText(ctx, a, choice.Content)
			}
			pending = append(pending, llms.TextPart(choice.Content))
			continue
		}

		for i, toolCall := range choice.ToolCalls {
			if toolCall.FunctionCall == nil {
				continue
			}
			if toolCall.ID == "" {
				toolCall.ID = fmt.Sprintf("%s_%d_%d", toolCall.FunctionCall.Name, result.LLMCalls, i)
			}
			toolCall.Type = values.StringsCoalesce(toolCall.Type, "function")

			pending = append(pending, toolCall)
			messages = append(messages, llms.MessageFromParts(llms.RoleAI, pending...))
			pending = nil

			toolName := toolCall.FunctionCall.Name
			toolArgs := toolCall.FunctionCall.Arguments

			if callback != nil {
				callback.OnToolStart(ctx, a, toolName, toolArgs)
			}

			var args json.RawMessage
			if toolArgs != "" {
				args = json.RawMessage(toolArgs)
			}
			res := a.dispatcher.InvokeTool(ctx, toolName, args)
			result.ToolCalls++

			if callback != nil {
				if res.IsError {
					callback.OnToolError(ctx, a, toolName, toolArgs, res.Text)
				} else {
					callback.OnToolEnd(ctx, a, toolName, toolArgs, res.Text)
				}
			}

			logger.ContextKV(ctx, xlog.DEBUG,
				"assistant", a.cfg.Name,
				"status", "tool_call_response",
				"tool_call_id", toolCall.ID,
				"tool_name", toolName,
				"is_error", res.IsError,
				"content_length", len(res.Text),
			)

			messages = append(messages, llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
				ToolCallID: toolCall.ID,
				Name:       toolName,
				Content:    res.Text,
				IsError:    res.IsError,
			}))
		}
	}

	if len(pending) > 0 {
		messages = append(messages, llms.MessageFromParts(llms.RoleAI, pending...))
	}
	return messages, texts
}

// archive adds the conversation to the store, failures are logged
func (a *Assistant) archive(ctx context.Context, query string, result *Result) {
	st := a.cfg.Store
	if st == nil {
		return
	}
	if err := st.Add(ctx, result.Messages...); err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"assistant", a.cfg.Name,
			"reason", "store",
			"chat_id", result.ChatID,
			"err", err.Error(),
		)
		return
	}
	if titled, ok := st.(interface {
		UpdateChat(ctx context.Context, title string, metadata map[string]any) error
	}); ok {
		err := titled.UpdateChat(ctx, slices.StringUpto(query, 64), map[string]any{
			"llm_calls":  result.LLMCalls,
			"tool_calls": result.ToolCalls,
		})
		if err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"assistant", a.cfg.Name,
				"reason", "update_chat",
				"chat_id", result.ChatID,
				"err", err.Error(),
			)
		}
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"assistant", a.cfg.Name,
		"chat_id", result.ChatID,
		"status", "added_message_history",
		"message_history", len(result.Messages),
	)
}
