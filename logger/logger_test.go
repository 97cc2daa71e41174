package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetOutput(zapcore.AddSync(buf))
	t.Cleanup(func() { SetLevel("info") })
	return buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestInfoWritesFields(t *testing.T) {
	buf := capture(t)
	Info("seeded fixtures", FieldKV("collection", "customers"), FieldKV("count", 1))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "seeded fixtures", lines[0]["msg"])
	assert.Equal(t, "customers", lines[0]["collection"])
	assert.EqualValues(t, 1, lines[0]["count"])
	assert.NotEmpty(t, lines[0]["ts"])
}

func TestErrorIncludesError(t *testing.T) {
	buf := capture(t)
	Error("insert failed", errors.New("boom"), FieldKV("collection", "accounts"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestDebugRespectsLevel(t *testing.T) {
	buf := capture(t)
	SetLevel("info")
	Debug("hidden")
	assert.Empty(t, strings.TrimSpace(buf.String()))

	SetLevel("debug")
	Debug("shown")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	buf := capture(t)
	SetLevel("warn")
	SetLevel("loud")
	Info("dropped")
	Warn("kept", nil)
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
}
