package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "debug", "json")
	require.NoError(t, err)

	log.Debug("scored", "user_id", "u1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scored", line["msg"])
	assert.Equal(t, "u1", line["user_id"])
}

func TestNewWriterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "warn", "text")
	require.NoError(t, err)

	log.Info("hidden")
	assert.Empty(t, buf.String())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	lvl, err = ParseLevel("ERROR")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWriterRejectsUnknownFormat(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
