package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "info"}, &buf)

	l.Info("job sent", "campaign_id", "c1", "attempts", 2, "err", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "job sent", entry["message"])
	assert.Equal(t, "c1", entry["campaign_id"])
	assert.Equal(t, float64(2), entry["attempts"])
	assert.Equal(t, "boom", entry["err"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn"}, &buf)

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLogger_WithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{}, &buf).With("queue", "shots")

	l.Info("cycle")
	assert.Contains(t, buf.String(), `"queue":"shots"`)
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{RedactPII: true}, &buf)

	l.Info("send", "recipient_id", "987654321", "bot_token", "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZ",
		"detail", "post https://api.example/bot123456:ABCDEFGHIJKLMNOPQRSTUVWXYZ/sendMessage")

	out := buf.String()
	assert.Contains(t, out, `"recipient_id":"***321"`)
	assert.Contains(t, out, `"bot_token":"123456:***"`)
	assert.NotContains(t, out, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
}

func TestLogger_NilAndNopAreSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Info("x", "k", "v") })
	assert.NotPanics(t, func() { Nop().With("a", 1).Error("y") })
}

func TestRedactHelpers(t *testing.T) {
	assert.Equal(t, "***", RedactToken("notatoken"))
	assert.Equal(t, "42:***", RedactToken("42:secret"))
	assert.Equal(t, "***", RedactRecipient("12"))
	assert.Equal(t, "***789", RedactRecipient("123456789"))
}
