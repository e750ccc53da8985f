//go:build linux
// +build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade_test

import (
	"testing"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/control"
	"github.com/momentics/hiolink/facade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderPerStrategy(t *testing.T) {
	for _, s := range []control.Strategy{control.StrategyDual, control.StrategySingle, control.StrategyStealing} {
		cfg := control.DefaultConfig().IO
		cfg.Strategy = s
		p, err := facade.NewProvider(cfg, quietLogger(), nil)
		require.NoError(t, err, s)
		assert.Equal(t, string(s), p.Strategy())
		require.NoError(t, p.Close())
	}

	cfg := control.DefaultConfig().IO
	cfg.Strategy = "fifo"
	_, err := facade.NewProvider(cfg, quietLogger(), nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestDebugStateIncludesProviderStats(t *testing.T) {
	ctx, err := facade.New(nil, facade.WithLogger(quietLogger()))
	require.NoError(t, err)
	defer ctx.Stop()
	assert.Contains(t, ctx.DebugState(), "provider.stats")
}
