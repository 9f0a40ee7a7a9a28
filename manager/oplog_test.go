package manager

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpIDHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := WithOpIDHandler(slog.New(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no op")
	assert.NotContains(t, buf.String(), "op_id")

	buf.Reset()
	logger.InfoContext(ContextWithOpID(context.Background(), 42), "write")
	assert.Contains(t, buf.String(), "op_id=42")
}

func TestOpIDHandlerSurvivesWith(t *testing.T) {
	var buf bytes.Buffer
	logger := WithOpIDHandler(slog.New(slog.NewTextHandler(&buf, nil))).
		With("component", "manager").
		WithGroup("write")

	logger.InfoContext(ContextWithOpID(context.Background(), 7), "applied", "updates", 3)
	out := buf.String()
	assert.Contains(t, out, "op_id=7")
	assert.Contains(t, out, "component=manager")
	assert.Contains(t, out, "write.updates=3")
}

func TestWithOpIDHandlerDoesNotDoubleWrap(t *testing.T) {
	logger := WithOpIDHandler(slog.Default())
	assert.Same(t, logger, WithOpIDHandler(logger))
	assert.Zero(t, OpIDFromContext(context.Background()))
}
