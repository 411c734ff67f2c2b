package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_RejectsUnknownLevel(t *testing.T) {
	_, err := Init(Options{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestInit_SetsGlobal(t *testing.T) {
	log, err := Init(Options{Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, log)
	defer Cleanup()

	assert.NotNil(t, Global())
	log.With("component", "test").Info("dropped below warn")
}

func TestNop_DoesNotPanic(t *testing.T) {
	log := Nop()
	log.Debug("debug", "k", 1)
	log.Info("info")
	log.Warn("warn")
	log.Error("error", "err", "boom")
	log.With("a", "b").Info("child")
}
