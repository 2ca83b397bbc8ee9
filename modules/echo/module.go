// Package echo provides a component that registers a console command
// replying with a fixed text.
package echo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/cutlet/internal/command"
	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/registry"
)

// TypeName is the component type registered by this module.
const TypeName = "echo"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the echo factory.
func (m *Module) Register(r *registry.Registry) error {
	return r.Register(TypeName, New)
}

// Settings are the attributes of an echo section.
type Settings struct {
	Name       string   `cty:"name"`
	Text       string   `cty:"text"`
	Aliases    []string `cty:"aliases"`
	Permission *string  `cty:"permission"`
	Dialog     *string  `cty:"dialog"`
}

type params struct {
	name       string
	text       string
	aliases    []string
	permission string
	dialog     command.DialogType
}

// sameCommand reports whether p and o register an identical command.
func (p params) sameCommand(o params) bool {
	return p.name == o.name && slices.Equal(p.aliases, o.aliases) &&
		p.permission == o.permission && p.dialog == o.dialog
}

func parse(section *config.Section) (params, error) {
	var s Settings
	if err := section.Decode(&s); err != nil {
		return params{}, err
	}
	if s.Name == "" {
		return params{}, fmt.Errorf("%s: command name must not be empty", section.Path)
	}
	p := params{name: s.Name, text: s.Text, aliases: s.Aliases, dialog: command.All}
	if s.Permission != nil {
		p.permission = *s.Permission
	}
	if s.Dialog != nil {
		d, err := command.ParseDialogType(*s.Dialog)
		if err != nil {
			return params{}, fmt.Errorf("%s: %w", section.Path, err)
		}
		p.dialog = d
	}
	return p, nil
}

// Echo is a live echo entity.
type Echo struct {
	id       string
	commands *command.Registry

	mu         sync.Mutex
	p          params
	registered bool
}

// New is the echo factory.
func New(ctx context.Context, spec registry.Spec) (registry.Component, error) {
	if spec.Services.Commands == nil {
		return nil, errors.New("echo requires the command service")
	}
	p, err := parse(spec.Section)
	if err != nil {
		return nil, err
	}
	return &Echo{id: spec.ID, commands: spec.Services.Commands, p: p}, nil
}

func (e *Echo) command(p params) command.Command {
	return command.Command{
		Name:        p.name,
		Aliases:     p.aliases,
		Description: "Replies with a configured text.",
		Permission:  p.permission,
		Dialog:      p.dialog,
		Handler:     e.reply,
	}
}

func (e *Echo) reply(ctx context.Context, inv command.Invocation) error {
	e.mu.Lock()
	text := e.p.text
	e.mu.Unlock()
	inv.Sender.Reply(text)
	return nil
}

// Start registers the command.
func (e *Echo) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.commands.Register(e.id, e.command(e.p)); err != nil {
		return err
	}
	e.registered = true
	ctxlog.FromContext(ctx).Debug("Echo command registered.", "entity", e.id, "command", e.p.name)
	return nil
}

// Reload swaps the reply text and re-registers the command when its name,
// aliases, permission or dialog changed. A failed re-registration restores
// the previous command.
func (e *Echo) Reload(ctx context.Context, section *config.Section) error {
	p, err := parse(section)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.p
	if p.sameCommand(old) {
		e.p = p
		return nil
	}

	e.commands.Unregister(e.id, old.name)
	if err := e.commands.Register(e.id, e.command(p)); err != nil {
		if rerr := e.commands.Register(e.id, e.command(old)); rerr != nil {
			e.registered = false
			return errors.Join(err, rerr)
		}
		return err
	}
	e.p = p
	return nil
}

// Stop unregisters the command.
func (e *Echo) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registered {
		e.commands.Unregister(e.id, e.p.name)
		e.registered = false
	}
	return nil
}
