package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJournal_RecordAndList(t *testing.T) {
	t.Parallel()
	j := Open(filepath.Join(t.TempDir(), "journal.db"))
	defer func() { require.NoError(t, j.Close()) }()

	ctx := context.Background()

	entries, err := j.Entries(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)

	first := Entry{
		EmergencyID:  "E1",
		AssignmentID: "A1",
		DocName:      "findings/F1",
		Latitude:     1.0,
		Longitude:    2.0,
		Trigger:      "key",
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, j.Record(ctx, first))
	require.NoError(t, j.Record(ctx, Entry{
		EmergencyID:  "E1",
		AssignmentID: "A1",
		DocName:      "findings/F2",
		Latitude:     1.5,
		Longitude:    2.5,
		Trigger:      "button",
		CreatedAt:    time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
	}))

	entries, err = j.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NotEmpty(t, entries[0].ID, "missing ids are generated")
	require.Equal(t, "findings/F1", entries[0].DocName)
	require.Equal(t, "key", entries[0].Trigger)
	require.Equal(t, 1.0, entries[0].Latitude)
	require.Equal(t, "findings/F2", entries[1].DocName)
	require.NotEqual(t, entries[0].ID, entries[1].ID)
}

func TestJournal_FillsDefaults(t *testing.T) {
	t.Parallel()
	j := Open(filepath.Join(t.TempDir(), "journal.db"))
	defer func() { require.NoError(t, j.Close()) }()

	ctx := context.Background()
	require.NoError(t, j.Record(ctx, Entry{EmergencyID: "E1", AssignmentID: "A1", DocName: "findings/F1"}))

	entries, err := j.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].ID)
	require.False(t, entries[0].CreatedAt.IsZero())
}
