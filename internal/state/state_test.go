package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/analyzer"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RunLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.BeginRun("tds", "directquery", 4, false)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(id, RunStatusCompleted, ""))

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "tds", runs[0].ConnectionMode)
	assert.Equal(t, 4, runs[0].TableCount)
	assert.Equal(t, RunStatusCompleted, runs[0].Status)
	require.NotNil(t, runs[0].FinishedAt)
	assert.False(t, runs[0].FinishedAt.Before(runs[0].StartedAt))
}

func TestStore_FailedRunKeepsError(t *testing.T) {
	s := openTestStore(t)

	id, err := s.BeginRun("fabric", "import", 2, true)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(id, RunStatusFailed, "metadata snapshot unreadable"))

	runs, err := s.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, "metadata snapshot unreadable", runs[0].Error)
	assert.True(t, runs[0].FullRebuild)
}

func TestStore_ChangeRecordsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	id, err := s.BeginRun("tds", "directquery", 1, false)
	require.NoError(t, err)

	records := []analyzer.Record{
		{Kind: analyzer.KindNew, Object: analyzer.ObjectTable, Name: "Account",
			Impact: analyzer.ImpactAdditive, Summary: "table will be created"},
		{Kind: analyzer.KindNew, Object: analyzer.ObjectColumn, Name: "Account Name", Parent: "Account",
			Impact: analyzer.ImpactAdditive, Summary: "column will be added"},
	}
	require.NoError(t, s.AddChangeRecords(id, records))

	got, err := s.ListChangeRecords(id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, analyzer.ObjectColumn, got[1].Object)
	assert.Equal(t, "Account", got[1].Parent)
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	first, err := s.BeginRun("tds", "directquery", 1, false)
	require.NoError(t, err)
	second, err := s.BeginRun("tds", "directquery", 1, false)
	require.NoError(t, err)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, first, runs[1].ID)
}

func TestStore_MigrationsAreIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate())
}
