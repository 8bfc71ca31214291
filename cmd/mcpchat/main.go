// mcpchat is an interactive chatbot that connects to the MCP servers of the
// configuration file, and offers their tools to the model.
//
// Usage:
//
//	mcpchat [-config server_config.json] [-log-level DEBUG] [-trace trace.log] [-verbose]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/chatbot"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/dispatch"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llmfactory"
	"github.com/effective-security/mcpchat/registry"
	"github.com/effective-security/mcpchat/store"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "mcpchat")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to start chatbot: %s\n", err.Error())
		os.Exit(1)
	}
}

type flags struct {
	config   string
	logLevel string
	trace    string
	verbose  bool
}

func parseFlags(stderr io.Writer, args []string) (*flags, error) {
	f := new(flags)
	fs := flag.NewFlagSet("mcpchat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.config, "config", "", "configuration file, by default "+strings.Join(config.SearchPaths(), " or "))
	fs.StringVar(&f.logLevel, "log-level", "", "log level: TRACE, DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL")
	fs.StringVar(&f.trace, "trace", "", "write the trace of each query to the file, - for stderr")
	fs.BoolVar(&f.verbose, "verbose", false, "print the model calls and the tool outputs")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// run starts the chatbot, and returns when the user quits,
// the input ends or the context is cancelled.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	f, err := parseFlags(stderr, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	// the environment may provide ANTHROPIC_API_KEY and the values of ${VAR} in the configuration
	_ = godotenv.Load()

	xlog.SetFormatter(xlog.NewStringFormatter(stderr))

	path, err := config.Find(f.config)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err = setLogLevel(values.StringsCoalesce(f.logLevel, cfg.LogLevel, "WARNING")); err != nil {
		return err
	}

	llm, err := llmfactory.NewLLM(&cfg.Model)
	if err != nil {
		return err
	}

	st, err := store.New(ctx, cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() {
			if err := st.Close(); err != nil {
				logger.KV(xlog.WARNING, "reason", "close_store", "err", err.Error())
			}
		}()
	}

	reg := registry.New()
	defer func() {
		_ = reg.Close()
	}()

	fmt.Fprintln(stdout, "Connecting to MCP servers...")
	if err = reg.Connect(ctx, cfg.Enabled(), mcp.Dial); err != nil {
		return err
	}
	reg.Freeze()

	catalog := registry.NewCatalog(reg)
	d := dispatch.New(reg)

	mode := callbacks.ModeDefault
	if f.verbose {
		mode = callbacks.ModeVerbose
	}
	printer := callbacks.NewPrinter(stdout, mode)
	handlers := callbacks.NewFanout(printer, callbacks.NewPackageLogger(logger))

	opts := []assistants.Option{
		assistants.WithName(cfg.Agent.Name),
		assistants.WithSystemPrompt(cfg.Agent.SystemPrompt),
		assistants.WithMaxTurns(cfg.Agent.MaxTurns),
		assistants.WithTermination(assistants.TerminationPolicy(cfg.Agent.Termination)),
		assistants.WithCallback(handlers),
	}
	if cfg.Model.MaxTokens > 0 {
		opts = append(opts, assistants.WithMaxTokens(cfg.Model.MaxTokens))
	}
	if cfg.Model.Temperature > 0 {
		opts = append(opts, assistants.WithTemperature(cfg.Model.Temperature))
	}
	if st != nil {
		opts = append(opts, assistants.WithStore(st))
	}
	if cfg.Model.Streaming {
		printer.Streamed = true
		opts = append(opts, assistants.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			_, err := stdout.Write(chunk)
			return err
		}))
	}

	var botOpts []chatbot.Option
	if f.trace != "" {
		w, closeFn, err := traceWriter(f.trace, stderr)
		if err != nil {
			return err
		}
		defer closeFn()

		sp := callbacks.NewScratchpad(mode)
		handlers.Add(sp)
		botOpts = append(botOpts, chatbot.WithTrace(sp, w))
	}

	ast := assistants.NewAssistant(llm, d, catalog.Tools(), opts...)
	bot := chatbot.New(ast, reg, d, botOpts...)

	logger.KV(xlog.INFO,
		"status", "started",
		"config", path,
		"servers", len(reg.Connections()),
		"tools", catalog.Len(),
		"model", llm.GetName(),
		"session_id", bot.SessionID(),
	)
	return bot.Run(ctx, stdin, stdout)
}

func traceWriter(path string, stderr io.Writer) (io.Writer, func(), error) {
	if path == "-" {
		return stderr, func() {}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "unable to open trace file %q", path)
	}
	return file, func() { _ = file.Close() }, nil
}

// setLogLevel applies the level name, case insensitive.
func setLogLevel(level string) error {
	l, err := xlog.ParseLevel(strings.ToUpper(level))
	if err != nil {
		return errors.WithMessage(config.ErrInvalidConfig, err.Error())
	}
	xlog.SetGlobalLogLevel(l)
	return nil
}
