package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vk/cutlet/internal/command"
	"github.com/vk/cutlet/internal/lifecycle"
)

// consoleOwner owns the built-in commands.
const consoleOwner = "cutlet"

// consoleSender is the operator typing on stdin. It holds every permission.
type consoleSender struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *consoleSender) Permissions() []string      { return []string{"*"} }
func (s *consoleSender) Name() string               { return "console" }
func (s *consoleSender) Dialog() command.DialogType { return command.Private }

func (s *consoleSender) Reply(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, msg)
}

func (a *App) registerCommands() error {
	builtins := []command.Command{
		{
			Name:        "stop",
			Description: "Stops every entity and exits.",
			Permission:  "cutlet.command.stop",
			Handler: func(ctx context.Context, inv command.Invocation) error {
				inv.Sender.Reply("Stopping.")
				a.RequestStop()
				return nil
			},
		},
		{
			Name:        "status",
			Aliases:     []string{"health"},
			Description: "Prints the state of every entity.",
			Permission:  "cutlet.command.status",
			Handler: func(ctx context.Context, inv command.Invocation) error {
				inv.Sender.Reply(formatStatus(a.manager.Status()))
				return nil
			},
		},
		{
			Name:        "reload",
			Description: "Reloads the configuration.",
			Permission:  "cutlet.command.reload",
			Handler: func(ctx context.Context, inv command.Invocation) error {
				a.RequestReload()
				inv.Sender.Reply("Reload requested.")
				return nil
			},
		},
		{
			Name:        "help",
			Description: "Lists the available commands.",
			Handler: func(ctx context.Context, inv command.Invocation) error {
				inv.Sender.Reply(strings.Join(a.commands.Names(), " "))
				return nil
			},
		},
	}
	for _, cmd := range builtins {
		if err := a.commands.Register(consoleOwner, cmd); err != nil {
			return fmt.Errorf("failed to register command %q: %w", cmd.Name, err)
		}
	}
	return nil
}

// formatStatus renders the health summary followed by one line per entity.
func formatStatus(s lifecycle.Snapshot) string {
	h := s.Health()
	var b strings.Builder
	if h.Healthy {
		b.WriteString("healthy")
	} else {
		b.WriteString("unhealthy")
	}
	for st := lifecycle.Unloaded; st <= lifecycle.Failed; st++ {
		if n := h.Counts[st]; n > 0 {
			fmt.Fprintf(&b, " %s=%d", st, n)
		}
	}
	for _, e := range s.Entities {
		fmt.Fprintf(&b, "\n  %s (%s) %s", e.ID, e.Type, e.State)
		if e.Error != "" {
			fmt.Fprintf(&b, ": %s", e.Error)
		}
	}
	return b.String()
}

// readLines feeds the lines of r to the returned channel until r is
// exhausted or ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// consoleLoop dispatches console lines as commands. The end of input only
// ends the console, not the process.
func (a *App) consoleLoop(ctx context.Context, lines <-chan string) {
	sender := &consoleSender{out: a.outW}
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				a.logger.Debug("Console input closed.")
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := a.commands.Dispatch(ctx, sender, line); err != nil {
				sender.Reply("error: " + err.Error())
			}
		}
	}
}
