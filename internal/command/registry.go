// Package command keeps the commands registered by entities and dispatches
// input lines to them after checking dialog type and permissions.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/event"
	"github.com/vk/cutlet/internal/permission"
)

var (
	ErrCommandExists    = errors.New("command already registered")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrAmbiguousCommand = errors.New("ambiguous command")
	ErrNoPermission     = errors.New("no permission")
	ErrWrongDialog      = errors.New("command not available in this dialog")
	ErrCancelled        = errors.New("command cancelled")
)

// Sender is whoever issued a command line.
type Sender interface {
	permission.Holder
	Name() string
	Dialog() DialogType
	Reply(msg string)
}

// Invocation is passed to a command handler.
type Invocation struct {
	Sender Sender
	Owner  string
	Label  string
	Args   []string
}

// Handler executes a command.
type Handler func(ctx context.Context, inv Invocation) error

// Command describes a registered command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Permission  string
	Dialog      DialogType
	Handler     Handler
}

type entry struct {
	owner string
	cmd   Command
	keys  []string
}

// Registry maps owner-qualified, lower-cased names and aliases to commands.
type Registry struct {
	mu     sync.RWMutex
	calc   permission.Calculator
	bus    *event.Bus
	byKey  map[string]*entry
	byName map[string][]*entry
}

// NewRegistry creates a registry. calc may be nil for the default permission
// calculator; bus may be nil to skip CommandEvent publication.
func NewRegistry(calc permission.Calculator, bus *event.Bus) *Registry {
	return &Registry{
		calc:   permission.WithFallback(calc),
		bus:    bus,
		byKey:  make(map[string]*entry),
		byName: make(map[string][]*entry),
	}
}

func qualify(owner, name string) string {
	return owner + ":" + strings.ToLower(name)
}

// Register adds cmd under owner. It fails without side effects if the name or
// any alias is already taken by the same owner.
func (r *Registry) Register(owner string, cmd Command) error {
	if strings.TrimSpace(cmd.Name) == "" {
		return errors.New("command name must not be empty")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %q has no handler", cmd.Name)
	}

	names := append([]string{cmd.Name}, cmd.Aliases...)
	keys := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		k := strings.ToLower(n)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		if _, taken := r.byKey[qualify(owner, k)]; taken {
			return fmt.Errorf("%w: %s", ErrCommandExists, qualify(owner, k))
		}
	}

	e := &entry{owner: owner, cmd: cmd, keys: keys}
	for _, k := range keys {
		r.byKey[qualify(owner, k)] = e
		r.byName[k] = append(r.byName[k], e)
	}
	return nil
}

// Unregister removes the command owner registered under name, including its
// aliases.
func (r *Registry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byKey[qualify(owner, name)]
	if !ok {
		return false
	}
	r.remove(e)
	return true
}

// UnregisterAll removes every command of owner and returns how many were
// removed.
func (r *Registry) UnregisterAll(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[*entry]bool)
	for _, e := range r.byKey {
		if e.owner == owner {
			seen[e] = true
		}
	}
	for e := range seen {
		r.remove(e)
	}
	return len(seen)
}

func (r *Registry) remove(e *entry) {
	for _, k := range e.keys {
		delete(r.byKey, qualify(e.owner, k))
		list := r.byName[k]
		for i, other := range list {
			if other == e {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(r.byName, k)
		} else {
			r.byName[k] = list
		}
	}
}

// Lookup finds a command by "name" or "owner:name". A bare name shared by
// several owners is ambiguous.
func (r *Registry) Lookup(label string) (owner string, cmd Command, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if o, name, ok := strings.Cut(label, ":"); ok {
		e, found := r.byKey[qualify(o, name)]
		if !found {
			return "", Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, label)
		}
		return e.owner, e.cmd, nil
	}

	list := r.byName[strings.ToLower(label)]
	switch len(list) {
	case 0:
		return "", Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, label)
	case 1:
		return list[0].owner, list[0].cmd, nil
	default:
		owners := make([]string, 0, len(list))
		for _, e := range list {
			owners = append(owners, e.owner+":"+strings.ToLower(label))
		}
		sort.Strings(owners)
		return "", Command{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguousCommand, label, strings.Join(owners, ", "))
	}
}

// Names returns every qualified command key in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch parses line and runs the matching command for sender.
func (r *Registry) Dispatch(ctx context.Context, sender Sender, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	label, args := fields[0], fields[1:]

	owner, cmd, err := r.Lookup(label)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx).With("command", cmd.Name, "owner", owner, "sender", sender.Name())

	if !cmd.Dialog.Allows(sender.Dialog()) {
		return fmt.Errorf("%w: %s is %s only", ErrWrongDialog, cmd.Name, cmd.Dialog)
	}
	if !permission.Check(r.calc, sender, cmd.Permission) {
		logger.Warn("Command rejected, missing permission.", "permission", cmd.Permission)
		return fmt.Errorf("%w: %s", ErrNoPermission, cmd.Permission)
	}

	inv := Invocation{Sender: sender, Owner: owner, Label: label, Args: args}
	if r.bus != nil {
		ev := &Event{Invocation: inv, Command: cmd.Name}
		r.bus.Publish(ctx, ev)
		if ev.Cancelled() {
			logger.Debug("Command cancelled by a listener.")
			return ErrCancelled
		}
	}

	logger.Debug("Executing command.", "args", args)
	return cmd.Handler(ctx, inv)
}

// Event is published before a command runs. Cancelling it prevents the
// command from running.
type Event struct {
	event.Cancel
	Invocation Invocation
	Command    string
}

func (e *Event) EventName() string { return "command" }

// Owner scopes the event to the entity owning the command.
func (e *Event) Owner() string { return e.Invocation.Owner }
