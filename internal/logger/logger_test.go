package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New("production", "debug", &buf), "session")
	l.Info().Str("user_id", "u1").Msg("signed in")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "session", line["component"])
	assert.Equal(t, "u1", line["user_id"])
	assert.Equal(t, "signed in", line["message"])
}

func TestNew_LevelFallback(t *testing.T) {
	l := New("production", "bogus", &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
	l = New("production", "WARN", &bytes.Buffer{})
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
}
