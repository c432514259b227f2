package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louipr/spark-sub001/internal/config"
	"github.com/louipr/spark-sub001/internal/logging"
	"github.com/louipr/spark-sub001/internal/types"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "validate", "session", "stats", "cache"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}

func TestBuildCandidatesDefaultConfig(t *testing.T) {
	logger = logging.Nop()
	cfg = config.DefaultConfig()

	candidates, err := buildCandidates(context.Background(), cfg.Providers)
	require.NoError(t, err)
	// Only the static provider is enabled out of the box.
	require.Len(t, candidates, 1)
	assert.Equal(t, "static", candidates[0].Config.Name)
	require.NotNil(t, candidates[0].Backend)
}

func TestActiveSummariesFiltersFinishedSessions(t *testing.T) {
	in := []types.SessionSummary{
		{ID: "a", Stage: types.StageGenerating},
		{ID: "b", Stage: types.StageCompleted},
		{ID: "c", Stage: types.StageValidating},
		{ID: "d", Stage: types.StageFailed},
	}
	got := activeSummaries(in)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestBuildCandidatesNoneEnabled(t *testing.T) {
	logger = logging.Nop()

	_, err := buildCandidates(context.Background(), []types.ProviderConfig{
		{Name: "off", Kind: "static", Enabled: false},
	})
	require.ErrorIs(t, err, types.ErrConfiguration)
}
