package echo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cutlet/internal/command"
	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

type testSender struct {
	perms   []string
	dialog  command.DialogType
	replies []string
}

func (s *testSender) Permissions() []string      { return s.perms }
func (s *testSender) Name() string               { return "tester" }
func (s *testSender) Dialog() command.DialogType { return s.dialog }
func (s *testSender) Reply(msg string)           { s.replies = append(s.replies, msg) }

func section(attrs ...config.Attribute) *config.Section {
	return config.NewSection("", "entity", []string{TypeName, "E"}, "test.hcl", attrs, nil)
}

func str(name, v string) config.Attribute {
	return config.Attribute{Name: name, Value: cty.StringVal(v)}
}

func list(name string, vs ...string) config.Attribute {
	vals := make([]cty.Value, len(vs))
	for i, v := range vs {
		vals[i] = cty.StringVal(v)
	}
	return config.Attribute{Name: name, Value: cty.TupleVal(vals)}
}

func newEcho(t *testing.T, s *config.Section) (*Echo, *command.Registry, context.Context) {
	t.Helper()
	ctx := ctxlog.Discard(context.Background())
	cmds := command.NewRegistry(nil, nil)
	c, err := New(ctx, registry.Spec{ID: "E", Type: TypeName, Section: s, Services: registry.Services{Commands: cmds}})
	require.NoError(t, err)
	return c.(*Echo), cmds, ctx
}

func TestNew_Errors(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	cmds := command.NewRegistry(nil, nil)

	testCases := []struct {
		name     string
		spec     registry.Spec
		contains string
	}{
		{"missing text", registry.Spec{ID: "E", Section: section(str("name", "ping")), Services: registry.Services{Commands: cmds}}, `"text"`},
		{"empty name", registry.Spec{ID: "E", Section: section(str("name", ""), str("text", "x")), Services: registry.Services{Commands: cmds}}, "must not be empty"},
		{"bad dialog", registry.Spec{ID: "E", Section: section(str("name", "ping"), str("text", "x"), str("dialog", "group")), Services: registry.Services{Commands: cmds}}, "unknown dialog type"},
		{"no commands", registry.Spec{ID: "E", Section: section(str("name", "ping"), str("text", "x"))}, "command service"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(ctx, tc.spec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestEcho_Replies(t *testing.T) {
	e, cmds, ctx := newEcho(t, section(str("name", "ping"), str("text", "pong"), list("aliases", "p"), str("permission", "echo.use")))
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, []string{"E:p", "E:ping"}, cmds.Names())

	sender := &testSender{perms: []string{"echo.*"}}
	require.NoError(t, cmds.Dispatch(ctx, sender, "ping"))
	require.NoError(t, cmds.Dispatch(ctx, sender, "E:p"))
	assert.Equal(t, []string{"pong", "pong"}, sender.replies)

	err := cmds.Dispatch(ctx, &testSender{}, "ping")
	assert.ErrorIs(t, err, command.ErrNoPermission)

	require.NoError(t, e.Stop(ctx))
	assert.Empty(t, cmds.Names())
}

func TestEcho_Reload(t *testing.T) {
	e, cmds, ctx := newEcho(t, section(str("name", "ping"), str("text", "pong")))
	require.NoError(t, e.Start(ctx))
	sender := &testSender{}

	t.Run("text only", func(t *testing.T) {
		require.NoError(t, e.Reload(ctx, section(str("name", "ping"), str("text", "PONG"))))
		require.NoError(t, cmds.Dispatch(ctx, sender, "ping"))
		assert.Equal(t, "PONG", sender.replies[len(sender.replies)-1])
	})

	t.Run("renamed command", func(t *testing.T) {
		require.NoError(t, e.Reload(ctx, section(str("name", "hello"), str("text", "hi"))))
		assert.Equal(t, []string{"E:hello"}, cmds.Names())
		_, _, err := cmds.Lookup("ping")
		assert.ErrorIs(t, err, command.ErrUnknownCommand)
	})

	t.Run("invalid settings keep the command", func(t *testing.T) {
		require.Error(t, e.Reload(ctx, section(str("name", "hello"))))
		assert.Equal(t, []string{"E:hello"}, cmds.Names())
	})
}
