package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevelsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(Config{Level: "warn", Format: "json"}, &buf), "router")

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Str("processor", "stripe").Msg("frozen")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "router", entry["component"])
	assert.Equal(t, "stripe", entry["processor"])
	assert.Equal(t, "warn", entry["level"])
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Level: "debug", Format: "console", Output: "stdout"}.Validate())
	assert.Error(t, Config{Level: "loud"}.Validate())
	assert.Error(t, Config{Level: "info", Format: "xml"}.Validate())
	assert.Error(t, Config{Level: "info", Output: "syslog"}.Validate())
}
