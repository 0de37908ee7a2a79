package wren

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONLineByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("wrend")
	l.Output = &buf

	l.Infof("hello %s", "world")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "wrend", decoded["app_name"])
	assert.Equal(t, "INFO", decoded["level"])
	assert.Equal(t, "hello world", decoded["message"])
}

func TestLoggerDisabledSuppressesOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("wrend")
	l.Output = &buf
	l.Enabled = false

	l.Errorf("should not appear")

	assert.Empty(t, buf.String())
}

func TestLoggerPlainTextFormatAppendsMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("wrend")
	l.Output = &buf
	l.Format = "[{{.level}}]"

	l.Warn("disk is getting full")

	assert.Equal(t, "[WARN] disk is getting full\n", buf.String())
}

func TestLoggerFatalPanicsBeforeExit(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("wrend")
	l.Output = &buf

	assert.Panics(t, func() { l.Fatal("unrecoverable") })
}

func TestLoggerDebugAndInfoUseDistinctLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("wrend")
	l.Output = &buf

	l.Debug("first")
	l.Info("second")

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "DEBUG", first["level"])
	assert.Equal(t, "INFO", second["level"])
}
