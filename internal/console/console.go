// File: internal/console/console.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Operator console. Lines become script invocations on the command queue:
//
//	name arg...   call the global function name with string arguments
//	!code         run code through the run-string entry point
//	stats         print control statistics
//	help, exit

package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/core/concurrency"
)

const DefaultPrompt = "hioload> "

// Option customizes a Console.
type Option func(*Console)

func WithLogger(log *zap.Logger) Option {
	return func(c *Console) {
		if log != nil {
			c.log = log
		}
	}
}

// WithOutput redirects command output.
func WithOutput(w io.Writer) Option {
	return func(c *Console) {
		if w != nil {
			c.out = w
		}
	}
}

// WithRunString sets the entry point used for "!code" lines.
func WithRunString(name string) Option {
	return func(c *Console) {
		if name != "" {
			c.runString = name
		}
	}
}

// Console reads operator commands and posts them to the script consumer.
type Console struct {
	queue     *concurrency.CommandQueue
	ctrl      api.Control
	log       *zap.Logger
	out       io.Writer
	runString string
}

// New creates a console. ctrl may be nil, which disables stats.
func New(queue *concurrency.CommandQueue, ctrl api.Control, opts ...Option) *Console {
	c := &Console{
		queue:     queue,
		ctrl:      ctrl,
		log:       zap.NewNop(),
		out:       os.Stdout,
		runString: "RUN_STRING",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Handle executes one input line. It reports whether the console should exit.
func (c *Console) Handle(line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "exit" || line == "quit":
		return true
	case line == "help":
		fmt.Fprintln(c.out, "name arg...  call a script function")
		fmt.Fprintln(c.out, "!code        run code")
		fmt.Fprintln(c.out, "stats        show statistics")
		fmt.Fprintln(c.out, "exit         leave the console")
	case line == "stats":
		c.printStats()
	case strings.HasPrefix(line, "!"):
		code := strings.TrimSpace(line[1:])
		if code != "" {
			c.queue.Enqueue(concurrency.Invocation{Name: c.runString, Args: []string{code}})
		}
	default:
		fields := strings.Fields(line)
		c.queue.Enqueue(concurrency.Invocation{Name: fields[0], Args: fields[1:]})
		c.log.Debug("console invocation", zap.String("name", fields[0]))
	}
	return false
}

func (c *Console) printStats() {
	if c.ctrl == nil {
		fmt.Fprintln(c.out, "stats unavailable")
		return
	}
	stats := c.ctrl.Stats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(c.out, "%-32s %v\n", k, stats[k])
	}
}

// Run reads lines until EOF, exit or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          DefaultPrompt,
		HistoryLimit:    1000,
		AutoComplete:    readline.NewPrefixCompleter(readline.PcItem("help"), readline.PcItem("stats"), readline.PcItem("exit")),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          c.out,
	})
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer rl.Close()

	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if c.Handle(line) {
			return nil
		}
	}
}
