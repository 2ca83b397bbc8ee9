package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_PanicsWithoutLogger(t *testing.T) {
	assert.PanicsWithValue(t, "ctxlog: logger missing from context", func() {
		FromContext(context.Background())
	})
}

func TestWith_AppendsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithLogger(context.Background(), logger)

	ctx, scoped := With(ctx, "entity", "A")
	require.NotNil(t, scoped)

	FromContext(ctx).Info("Entity started.")
	assert.Contains(t, buf.String(), "entity=A")
	assert.Contains(t, buf.String(), "Entity started.")
}

func TestDiscard(t *testing.T) {
	ctx := Discard(context.Background())
	require.NotPanics(t, func() {
		FromContext(ctx).Error("dropped")
	})
}
