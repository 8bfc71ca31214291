package chatbot

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-shellwords"
)

// ResourceScheme is the scheme of the `@name` shortcut.
const ResourceScheme = "papers"

// Kind is the kind of an input line.
type Kind int

const (
	KindEmpty Kind = iota
	KindQuery
	KindQuit
	KindResource
	KindPrompts
	KindPrompt
	KindTools
	KindResources
	KindHelp
	KindUnknown
)

// ErrUsage is returned for a malformed command.
var ErrUsage = errors.New("invalid command")

// Command is a parsed input line.
type Command struct {
	Kind Kind
	// Text is the query for KindQuery, or the raw command otherwise
	Text string
	// Name is the prompt name for KindPrompt, or the resource URI for KindResource
	Name string
	// Args are the prompt arguments
	Args map[string]string
}

// Parse returns the command of the input line.
func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	cmd := &Command{Text: line}

	switch strings.ToLower(line) {
	case "":
		cmd.Kind = KindEmpty
		return cmd, nil
	case "quit", "exit", "q":
		cmd.Kind = KindQuit
		return cmd, nil
	}

	switch {
	case strings.HasPrefix(line, "@"):
		name := strings.TrimSpace(line[1:])
		if name == "" {
			return nil, errors.WithMessage(ErrUsage, "usage: @<name>")
		}
		cmd.Kind = KindResource
		cmd.Name = ResourceURI(name)
		return cmd, nil
	case strings.HasPrefix(line, "/"):
		return parseSlash(cmd)
	}

	cmd.Kind = KindQuery
	return cmd, nil
}

// ResourceURI returns the URI of the `@name` shortcut.
// A name with a scheme is returned as is.
func ResourceURI(name string) string {
	if strings.Contains(name, "://") {
		return name
	}
	return ResourceScheme + "://" + name
}

func parseSlash(cmd *Command) (*Command, error) {
	parts, err := splitFields(cmd.Text)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(parts[0]) {
	case "/prompts":
		cmd.Kind = KindPrompts
	case "/tools":
		cmd.Kind = KindTools
	case "/resources":
		cmd.Kind = KindResources
	case "/help":
		cmd.Kind = KindHelp
	case "/prompt":
		if len(parts) < 2 {
			return nil, errors.WithMessage(ErrUsage, "usage: /prompt <name> <arg1=value1> <arg2=value2>")
		}
		cmd.Kind = KindPrompt
		cmd.Name = parts[1]
		cmd.Args = make(map[string]string, len(parts)-2)
		for _, arg := range parts[2:] {
			key, value, ok := strings.Cut(arg, "=")
			if !ok || key == "" {
				return nil, errors.WithMessagef(ErrUsage, "invalid argument %q, expected key=value", arg)
			}
			cmd.Args[key] = value
		}
	default:
		cmd.Kind = KindUnknown
	}
	return cmd, nil
}

// splitFields splits the line by blanks with the shell quoting rules:
// single and double quotes group the text, a backslash escapes the next
// character. Variables and commands are not expanded.
func splitFields(line string) ([]string, error) {
	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false

	fields, err := p.Parse(line)
	if err != nil {
		return nil, errors.WithMessage(ErrUsage, err.Error())
	}
	if p.Position >= 0 {
		return nil, errors.WithMessagef(ErrUsage, "unexpected operator in %q, quote the value", line)
	}
	return fields, nil
}
