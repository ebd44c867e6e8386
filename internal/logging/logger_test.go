package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToLogDir(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug", Debug: true})
	defer Shutdown()

	Logger().Info("hello", "key", "value")
	ForComponent("backend").Debug("component_line")

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), `"component":"backend"`)
}

func TestLoggerBeforeInitDoesNotPanic(t *testing.T) {
	Shutdown()
	assert.NotPanics(t, func() {
		Logger().Info("discarded")
		ForComponent("ui").Warn("also discarded")
	})
}

func TestComponentLoggerCreatedBeforeInit(t *testing.T) {
	Shutdown()
	early := ForComponent("logs")

	dir := t.TempDir()
	Init(Config{LogDir: dir, Debug: true})
	defer Shutdown()

	early.Info("late_bound")

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "late_bound")
	assert.Contains(t, string(data), `"component":"logs"`)
}

func TestDiscardWithoutDirAndDebugOff(t *testing.T) {
	Init(Config{})
	defer Shutdown()
	assert.NotPanics(t, func() {
		Logger().Error("nowhere to go")
	})
}
