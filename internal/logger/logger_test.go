package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLoggerWritesJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf})

	log.Debug("hidden")
	log.Info("stored", "type", "Courses")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "stored", rec["msg"])
	assert.Equal(t, "Courses", rec["type"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestDevLoggerWritesTextAtDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Dev: true, Output: &buf})

	log.Debug("change", "kind", "submitted")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "kind=submitted")
}
