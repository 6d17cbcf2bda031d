package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"neuron/internal/config"
	"neuron/internal/engine"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger(config.LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
	_, err = NewLogger(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestOpenWiresSnapshotMetrics(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, config.Default(), t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Engine.CreateProgram(ctx, engine.ProgramCreateOptions{ID: "p1", Name: "Apollo"})
	require.NoError(t, err)
	_, err = a.Engine.TakeSnapshot(ctx, "p1", "tester")
	require.NoError(t, err)

	families, err := a.Metrics.Registry.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "neuron_snapshots_total" {
			found = true
		}
	}
	assert.True(t, found)
}
