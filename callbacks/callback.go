package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ assistants.Callback = (*Noop)(nil)
	_ assistants.Callback = (*Printer)(nil)
	_ assistants.Callback = (*PackageLogger)(nil)
	_ assistants.Callback = (*Fanout)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []assistants.Callback
}

func NewFanout(callbacks ...assistants.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback assistants.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnAssistantStart(ctx context.Context, agent assistants.IAssistant, input string) {
	for _, callback := range l.callbacks {
		callback.OnAssistantStart(ctx, agent, input)
	}
}

func (l *Fanout) OnAssistantEnd(ctx context.Context, agent assistants.IAssistant, input string, result *assistants.Result) {
	for _, callback := range l.callbacks {
		callback.OnAssistantEnd(ctx, agent, input, result)
	}
}

func (l *Fanout) OnAssistantError(ctx context.Context, agent assistants.IAssistant, input string, err error, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnAssistantError(ctx, agent, input, err, messages)
	}
}

func (l *Fanout) OnAssistantLLMCallStart(ctx context.Context, agent assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnAssistantLLMCallStart(ctx, agent, llm, payload)
	}
}

func (l *Fanout) OnAssistantLLMCallEnd(ctx context.Context, agent assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnAssistantLLMCallEnd(ctx, agent, llm, resp)
	}
}

func (l *Fanout) OnText(ctx context.Context, agent assistants.IAssistant, text string) {
	for _, callback := range l.callbacks {
		callback.OnText(ctx, agent, text)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, agent assistants.IAssistant, tool, input string) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, agent, tool, input)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, agent assistants.IAssistant, tool, input, output string) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, agent, tool, input, output)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, agent assistants.IAssistant, tool, input, output string) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, agent, tool, input, output)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnAssistantStart(ctx context.Context, agent assistants.IAssistant, input string) {}
func (l *Noop) OnAssistantEnd(ctx context.Context, agent assistants.IAssistant, input string, result *assistants.Result) {
}
func (l *Noop) OnAssistantError(ctx context.Context, agent assistants.IAssistant, input string, err error, messages []llms.Message) {
}
func (l *Noop) OnAssistantLLMCallStart(ctx context.Context, agent assistants.IAssistant, llm llms.Model, payload []llms.Message) {
}
func (l *Noop) OnAssistantLLMCallEnd(ctx context.Context, agent assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
}
func (l *Noop) OnText(ctx context.Context, agent assistants.IAssistant, text string) {}
func (l *Noop) OnToolStart(ctx context.Context, agent assistants.IAssistant, tool, input string) {}
func (l *Noop) OnToolEnd(ctx context.Context, agent assistants.IAssistant, tool, input, output string) {
}
func (l *Noop) OnToolError(ctx context.Context, agent assistants.IAssistant, tool, input, output string) {
}

// Printer is a callback handler that prints the conversation to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode
	// Streamed is set when the text is written to Out by the streaming function,
	// then only the line break is printed at the end of a text block.
	Streamed bool

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnAssistantStart(ctx context.Context, agent assistants.IAssistant, input string) {
	if l.Mode == ModeVerbose {
		l.lock.Lock()
		defer l.lock.Unlock()
		fmt.Fprintf(l.Out, "Assistant Start: %s\n", agent.Name())
	}
}

func (l *Printer) OnAssistantEnd(ctx context.Context, agent assistants.IAssistant, input string, result *assistants.Result) {
	if l.Mode == ModeVerbose {
		l.lock.Lock()
		defer l.lock.Unlock()
		fmt.Fprintf(l.Out, "Assistant End: %s: %d model calls, %d tool calls\n", agent.Name(), result.LLMCalls, result.ToolCalls)
	}
}

func (l *Printer) OnAssistantError(ctx context.Context, agent assistants.IAssistant, input string, err error, messages []llms.Message) {
	if l.Mode == ModeVerbose {
		l.lock.Lock()
		defer l.lock.Unlock()
		fmt.Fprintf(l.Out, "Assistant Error: %s: %s\n", agent.Name(), err.Error())
	}
}

func (l *Printer) OnAssistantLLMCallStart(ctx context.Context, agent assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	if l.Mode == ModeVerbose {
		l.lock.Lock()
		defer l.lock.Unlock()
		fmt.Fprintf(l.Out, "Assistant LLM Call: %s: %s model, %d messages\n", agent.Name(), llm.GetName(), len(payload))
	}
}

func (l *Printer) OnAssistantLLMCallEnd(ctx context.Context, agent assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	if l.Mode == ModeVerbose {
		l.lock.Lock()
		defer l.lock.Unlock()
		fmt.Fprintf(l.Out, "Assistant LLM Call End: %s: %s model, %d blocks\n", agent.Name(), llm.GetName(), len(resp.Choices))
	}
}

func (l *Printer) OnText(ctx context.Context, agent assistants.IAssistant, text string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.Streamed {
		fmt.Fprintln(l.Out)
		return
	}
	fmt.Fprintln(l.Out, text)
}

func (l *Printer) OnToolStart(ctx context.Context, agent assistants.IAssistant, tool, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Calling tool '%s' with args: %s\n", tool, input)
}

func (l *Printer) OnToolEnd(ctx context.Context, agent assistants.IAssistant, tool, input, output string) {
	if l.Mode == ModeVerbose {
		l.lock.Lock()
		defer l.lock.Unlock()
		fmt.Fprintf(l.Out, "Tool End: %s\n", tool)
		fmt.Fprintf(l.Out, "Output: %s\n", output)
	}
}

func (l *Printer) OnToolError(ctx context.Context, agent assistants.IAssistant, tool, input, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "❌ Error calling tool '%s': %s\n", tool, output)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnAssistantStart(ctx context.Context, agent assistants.IAssistant, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_start",
		"assistant", agent.Name(),
		"input", slices.StringUpto(input, 256),
	)
}

func (l *PackageLogger) OnAssistantEnd(ctx context.Context, agent assistants.IAssistant, input string, result *assistants.Result) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_end",
		"assistant", agent.Name(),
		"chat_id", result.ChatID,
		"llm_calls", result.LLMCalls,
		"tool_calls", result.ToolCalls,
	)
}

func (l *PackageLogger) OnAssistantError(ctx context.Context, agent assistants.IAssistant, input string, err error, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "assistant_error",
		"assistant", agent.Name(),
		"messages", len(messages),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnAssistantLLMCallStart(ctx context.Context, agent assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_llm_call_start",
		"assistant", agent.Name(),
		"model", llm.GetName(),
		"messages", len(payload),
	)
}

func (l *PackageLogger) OnAssistantLLMCallEnd(ctx context.Context, agent assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_llm_call_end",
		"assistant", agent.Name(),
		"model", llm.GetName(),
		"blocks", len(resp.Choices),
	)
}

func (l *PackageLogger) OnText(ctx context.Context, agent assistants.IAssistant, text string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "text",
		"assistant", agent.Name(),
		"text", slices.StringUpto(text, 256),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, agent assistants.IAssistant, tool, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"assistant", agent.Name(),
		"tool", tool,
		"input", input,
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, agent assistants.IAssistant, tool, input, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"assistant", agent.Name(),
		"tool", tool,
		"output", slices.StringUpto(output, 256),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, agent assistants.IAssistant, tool, input, output string) {
	l.logger.ContextKV(ctx, xlog.WARNING,
		"event", "tool_error",
		"assistant", agent.Name(),
		"tool", tool,
		"output", output,
	)
}
