package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "localchat.log")
	l := New(path, true)
	l.Info("session saved")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"message":"session saved"`), "log line = %q", line)
	assert.True(t, strings.Contains(line, `"level":"INFO"`), "log line = %q", line)
}

func TestNew_DebugNotInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localchat.log")
	l := New(path, false)
	l.Debug("noisy")
	l.Info("kept")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "noisy")
	assert.Contains(t, string(data), "kept")
}

func TestComponent_NilSafe(t *testing.T) {
	l := Component(nil, "search")
	require.NotNil(t, l)
	l.Info("dropped")
}
