package appserver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperationLoggerSuccess(t *testing.T) {
	var buf bytes.Buffer
	l := NewOperationLogger(slog.NewTextHandler(&buf, nil), "datastore", "settings")

	l.Log(context.Background(), "set", time.Now(), nil)

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "component=datastore")
	assert.Contains(t, out, "store=settings")
	assert.Contains(t, out, "operation=set")
}

func TestOperationLoggerFailure(t *testing.T) {
	var buf bytes.Buffer
	l := NewOperationLogger(slog.NewTextHandler(&buf, nil), "messagequeue", "events")

	l.Log(context.Background(), "send", time.Now(), errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "error=boom")
}

func TestOperationLoggerShutdown(t *testing.T) {
	var buf bytes.Buffer
	l := NewOperationLogger(slog.NewTextHandler(&buf, nil), "datastore", "settings")

	l.Shutdown(context.Background(), "last handle dropped")

	out := buf.String()
	assert.Contains(t, out, "reason=\"last handle dropped\"")
}
