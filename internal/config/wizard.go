package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and writing prompts to out
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard, starting from base (defaults when nil).
// An empty answer keeps the value shown in brackets.
func (w *Wizard) Run(base *Config) (*Config, error) {
	cfg := base
	if cfg == nil {
		cfg = DefaultConfig()
	}
	validator := NewValidator()

	fmt.Fprintln(w.out, "=== Atlas Configuration Wizard ===")
	fmt.Fprintln(w.out)

	name, err := w.ask("Agent name", cfg.Agent.Name, nil)
	if err != nil {
		return nil, err
	}
	cfg.Agent.Name = name

	capabilities, err := w.ask("Capabilities (comma separated, globs allowed)", strings.Join(cfg.Agent.Capabilities, ","), func(s string) error {
		for _, c := range splitList(s) {
			if err := validator.ValidateCapability(c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	cfg.Agent.Capabilities = splitList(capabilities)

	timeout, err := w.askInt("Default tool timeout (ms)", cfg.Pipeline.DefaultTimeoutMs)
	if err != nil {
		return nil, err
	}
	cfg.Pipeline.DefaultTimeoutMs = timeout

	concurrent, err := w.askInt("Max concurrent calls per tool (0 = unlimited)", cfg.Pipeline.MaxConcurrent)
	if err != nil {
		return nil, err
	}
	cfg.Pipeline.MaxConcurrent = concurrent

	overflow, err := w.ask("Overflow policy (queue/reject)", cfg.Pipeline.Overflow, validator.ValidateOverflow)
	if err != nil {
		return nil, err
	}
	cfg.Pipeline.Overflow = overflow

	driver, err := w.ask("Task store (memory/sqlite)", cfg.Store.Driver, validator.ValidateStoreDriver)
	if err != nil {
		return nil, err
	}
	cfg.Store.Driver = driver

	transport, err := w.ask("MCP transport (stdio/http)", cfg.Server.Transport, validator.ValidateTransport)
	if err != nil {
		return nil, err
	}
	cfg.Server.Transport = transport

	if transport == "http" {
		addr, err := w.ask("HTTP listen address", cfg.Server.Addr, func(s string) error {
			return validator.ValidateAddr("address", s)
		})
		if err != nil {
			return nil, err
		}
		cfg.Server.Addr = addr
	}

	level, err := w.ask("Log level (trace/debug/info/warn/error)", cfg.Logging.Level, validator.ValidateLogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = level

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete.")
	return cfg, nil
}

// ask prompts until validate accepts the answer.
func (w *Wizard) ask(prompt, current string, validate func(string) error) (string, error) {
	for {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, current)
		answer, err := w.readLine()
		if err != nil {
			return "", err
		}
		if answer == "" {
			answer = current
		}
		if validate != nil {
			if err := validate(answer); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
		}
		return answer, nil
	}
}

func (w *Wizard) askInt(prompt string, current int) (int, error) {
	answer, err := w.ask(prompt, strconv.Itoa(current), func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not a number: %s", s)
		}
		if n < 0 {
			return fmt.Errorf("must not be negative")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(answer)
}

// readLine reads a trimmed line. EOF after a partial line still returns that line.
func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		if err == io.EOF {
			return "", fmt.Errorf("wizard aborted: %w", err)
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
