// Package chatbot provides the interactive command surface: plain text
// queries, `@name` resources, and `/prompt` templates.
package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/dispatch"
	"github.com/effective-security/mcpchat/registry"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "chatbot")

// Separator is printed after each query.
var Separator = strings.Repeat("=", 50)

// Capabilities lists the registered capabilities.
type Capabilities interface {
	Tools() []*registry.ToolEntry
	Prompts() []*registry.PromptEntry
	Resources() []*registry.ResourceEntry
}

// Dispatcher resolves prompts and resources.
type Dispatcher interface {
	GetPrompt(ctx context.Context, name string, args map[string]string) (string, error)
	ReadResource(ctx context.Context, uri string) (string, error)
}

// Option configures the Chatbot.
type Option func(*Chatbot)

// WithSessionID sets the session of the chats, by default a new ID is generated.
func WithSessionID(id string) Option {
	return func(c *Chatbot) {
		if id != "" {
			c.sessionID = id
		}
	}
}

// WithTrace records each query with the scratchpad and writes the trace to w.
// The scratchpad must be registered as a callback of the assistant.
func WithTrace(sp *callbacks.Scratchpad, w io.Writer) Option {
	return func(c *Chatbot) {
		c.scratchpad = sp
		c.trace = w
	}
}

// Chatbot reads the commands and processes them one at a time.
type Chatbot struct {
	assistant  assistants.IAssistant
	caps       Capabilities
	dispatcher Dispatcher
	sessionID  string

	scratchpad *callbacks.Scratchpad
	trace      io.Writer
}

// New returns the Chatbot.
func New(assistant assistants.IAssistant, caps Capabilities, dispatcher Dispatcher, opts ...Option) *Chatbot {
	c := &Chatbot{
		assistant:  assistant,
		caps:       caps,
		dispatcher: dispatcher,
		sessionID:  chatmodel.NewChatID(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the session of the chats.
func (c *Chatbot) SessionID() string {
	return c.sessionID
}

// Run reads the commands from in until quit, end of input, or the context
// is cancelled. The output is written to out.
func (c *Chatbot) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	c.printBanner(out)

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "\nQuery: ")

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nGoodbye!")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out, "\nGoodbye!")
			select {
			case err := <-readErr:
				if err != nil {
					return errors.Wrap(err, "unable to read input")
				}
			default:
			}
			return nil
		}

		if quit := c.Handle(ctx, line, out); quit {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
	}
}

// Handle processes one input line, and returns true when the user quits.
func (c *Chatbot) Handle(ctx context.Context, line string, out io.Writer) bool {
	cmd, err := Parse(line)
	if err != nil {
		fmt.Fprintf(out, "❌ %s\n", err.Error())
		return false
	}

	switch cmd.Kind {
	case KindQuit:
		return true
	case KindEmpty:
		fmt.Fprintln(out, "Please enter a query.")
	case KindQuery:
		c.processQuery(ctx, cmd.Text, out)
	case KindResource:
		c.readResource(ctx, cmd.Name, out)
	case KindPrompt:
		c.executePrompt(ctx, cmd.Name, cmd.Args, out)
	case KindPrompts:
		c.listPrompts(out)
	case KindTools:
		c.listTools(out)
	case KindResources:
		c.listResources(out)
	case KindHelp:
		printHelp(out)
	default:
		fmt.Fprintf(out, "Unknown command %q, type /help for the list of commands.\n", cmd.Text)
	}
	return false
}

func (c *Chatbot) processQuery(ctx context.Context, query string, out io.Writer) {
	ctx = chatmodel.WithChatContext(ctx, chatmodel.NewChatContext(c.sessionID, ""))

	if c.scratchpad != nil {
		c.scratchpad.StartRun(ctx)
	}

	res, err := c.assistant.ProcessQuery(ctx, query)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "process_query",
			"input", slices.StringUpto(query, 64),
			"err", err.Error(),
		)
		fmt.Fprintf(out, "❌ Error processing query: %s\n", err.Error())
	} else {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "query_completed",
			"chat_id", res.ChatID,
			"llm_calls", res.LLMCalls,
			"tool_calls", res.ToolCalls,
		)
	}

	if c.scratchpad != nil {
		if _, trace := c.scratchpad.EndRun(ctx); len(trace) > 0 && c.trace != nil {
			_, _ = c.trace.Write(trace)
		}
	}

	fmt.Fprintf(out, "\n%s\n", Separator)
}

func (c *Chatbot) readResource(ctx context.Context, uri string, out io.Writer) {
	content, err := c.dispatcher.ReadResource(ctx, uri)
	if err != nil {
		if errors.Is(err, dispatch.ErrResourceNotFound) {
			fmt.Fprintf(out, "Resource '%s' not found.\n", uri)
			return
		}
		fmt.Fprintf(out, "❌ Error reading resource '%s': %s\n", uri, err.Error())
		return
	}

	fmt.Fprintf(out, "\nResource: %s\n", uri)
	fmt.Fprintln(out, "Content:")
	fmt.Fprintln(out, content)
}

func (c *Chatbot) executePrompt(ctx context.Context, name string, args map[string]string, out io.Writer) {
	text, err := c.dispatcher.GetPrompt(ctx, name, args)
	if err != nil {
		if errors.Is(err, dispatch.ErrPromptNotFound) {
			fmt.Fprintf(out, "Prompt '%s' not found.\n", name)
			return
		}
		fmt.Fprintf(out, "❌ Error executing prompt '%s': %s\n", name, err.Error())
		return
	}

	fmt.Fprintf(out, "\nExecuting prompt '%s'...\n", name)
	c.processQuery(ctx, text, out)
}

func (c *Chatbot) listPrompts(out io.Writer) {
	prompts := c.caps.Prompts()
	if len(prompts) == 0 {
		fmt.Fprintln(out, "No prompts available.")
		return
	}

	fmt.Fprintln(out, "\nAvailable prompts:")
	for _, p := range prompts {
		fmt.Fprintf(out, "- %s: %s\n", p.Prompt.Name, p.Prompt.Description)
		if len(p.Prompt.Arguments) > 0 {
			fmt.Fprintln(out, "  Arguments:")
			for _, arg := range p.Prompt.Arguments {
				fmt.Fprintf(out, "    - %s", arg.Name)
				if arg.Description != "" {
					fmt.Fprintf(out, ": %s", arg.Description)
				}
				if arg.Required {
					fmt.Fprint(out, " (required)")
				}
				fmt.Fprintln(out)
			}
		}
	}
}

func (c *Chatbot) listTools(out io.Writer) {
	tools := c.caps.Tools()
	if len(tools) == 0 {
		fmt.Fprintln(out, "No tools available.")
		return
	}
	fmt.Fprintln(out, "\nAvailable tools:")
	for _, t := range tools {
		fmt.Fprintf(out, "- %s: %s [%s]\n", t.Tool.Name, t.Tool.Description, t.Conn.Name())
	}
}

func (c *Chatbot) listResources(out io.Writer) {
	resources := c.caps.Resources()
	if len(resources) == 0 {
		fmt.Fprintln(out, "No resources available.")
		return
	}
	fmt.Fprintln(out, "\nAvailable resources:")
	for _, r := range resources {
		fmt.Fprintf(out, "- %s", r.Resource.URI)
		if r.Resource.Name != "" {
			fmt.Fprintf(out, ": %s", r.Resource.Name)
		}
		fmt.Fprintf(out, " [%s]\n", r.Conn.Name())
	}
}

func (c *Chatbot) printBanner(out io.Writer) {
	fmt.Fprintln(out, "\nMCP Chatbot Started!")

	tools := c.caps.Tools()
	servers := map[string]struct{}{}
	for _, t := range tools {
		servers[t.Conn.Name()] = struct{}{}
	}
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Connected to %d servers with %d tools: %s\n", len(names), len(tools), strings.Join(names, ", "))
	printHelp(out)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Type your queries or 'quit' to exit.")
	fmt.Fprintln(out, "Use @folders to see available topics")
	fmt.Fprintln(out, "Use @<topic> to search papers in that topic")
	fmt.Fprintln(out, "Use /prompts to list available prompts")
	fmt.Fprintln(out, "Use /prompt <name> <arg1=value1> to execute a prompt")
	fmt.Fprintln(out, "Use /tools and /resources to list the capabilities")
}
