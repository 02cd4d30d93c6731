package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndListRuns(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	result := &runner.ScenarioResult{
		File:     "test_users.http.json",
		Failed:   true,
		Duration: 900 * time.Millisecond,
		Stages: []*runner.StageResult{
			{Stage: "login", Passed: true, Duration: 100 * time.Millisecond},
			{Stage: "fetch", Iteration: "env=dev", Err: errors.New("boom"), Duration: 50 * time.Millisecond},
			{Stage: "cleanup", Skipped: true},
		},
	}

	runID, err := store.RecordRun(result, time.Now())
	require.NoError(t, err)
	assert.Positive(t, runID)

	runs, err := store.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "test_users.http.json", runs[0].File)
	assert.Equal(t, 1, runs[0].Passed)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, 1, runs[0].Skipped)

	stages, err := store.RunStages(runID)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, "passed", stages[0].Status)
	assert.Equal(t, "failed", stages[1].Status)
	assert.Equal(t, "env=dev", stages[1].Iteration)
	assert.Equal(t, "boom", stages[1].Error)
	assert.Equal(t, "skipped", stages[2].Status)
}

func TestRecentRunsOrder(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	first := time.Now().Add(-time.Hour)
	second := time.Now()
	_, err = store.RecordRun(&runner.ScenarioResult{File: "a.json"}, first)
	require.NoError(t, err)
	_, err = store.RecordRun(&runner.ScenarioResult{File: "b.json"}, second)
	require.NoError(t, err)

	runs, err := store.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b.json", runs[0].File)
	assert.Equal(t, "a.json", runs[1].File)
}
