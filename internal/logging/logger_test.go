package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_WritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "OCR").With("job", "j1")

	log.Info("provider failed", "provider", "primary", "status", 500)

	out := buf.String()
	assert.Contains(t, out, "[OCR] ")
	assert.Contains(t, out, "[INFO] provider failed job=j1 provider=primary status=500")
}

func TestLogger_LevelFiltering(t *testing.T) {
	defer SetLevel("info")

	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "t")

	log.Debug("hidden")
	assert.Empty(t, buf.String())

	SetLevel("debug")
	log.Debug("shown")
	assert.Contains(t, buf.String(), "[DEBUG] shown")

	SetLevel("error")
	buf.Reset()
	log.Warn("hidden too")
	assert.Empty(t, buf.String())
}

func TestLogger_OddKeyValuesDropTrailingKey(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "t").Info("msg", "a", 1, "dangling")

	assert.Contains(t, buf.String(), "msg a=1")
	assert.NotContains(t, buf.String(), "dangling")
}
