package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mycelia/internal/responsemgr"
	"mycelia/internal/security"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestObserveResolvedPersistsRow(t *testing.T) {
	s := openTestStore(t)

	entry := responsemgr.Entry{
		CorrelationID: "corr-1",
		OwnerPKR:      security.PKR{UUID: "owner-1"},
		ReplyTo:       "fs://channel/replies",
		TimeoutMs:     1000,
	}
	s.ObserveResolved(entry)

	rows, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "corr-1", rows[0].CorrelationID)
	require.Equal(t, "resolved", rows[0].Outcome)
}

func TestObserveTimeoutPersistsRow(t *testing.T) {
	s := openTestStore(t)

	entry := responsemgr.Entry{
		CorrelationID: "corr-2",
		OwnerPKR:      security.PKR{UUID: "owner-2"},
		ReplyTo:       "fs://channel/replies",
		TimeoutMs:     500,
	}
	s.ObserveTimeout(entry)

	rows, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "timeout", rows[0].Outcome)
}

func TestRecentOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	s := openTestStore(t)

	for i, id := range []string{"a", "b", "c"} {
		s.record(responsemgr.Entry{
			CorrelationID: id,
			OwnerPKR:      security.PKR{UUID: "owner"},
			ReplyTo:       "fs://channel/replies",
			TimeoutMs:     int64(i),
		}, "resolved")
	}

	rows, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "c", rows[0].CorrelationID)
}

func TestRecordUpsertsOnDuplicateCorrelationID(t *testing.T) {
	s := openTestStore(t)

	entry := responsemgr.Entry{
		CorrelationID: "dup",
		OwnerPKR:      security.PKR{UUID: "owner"},
		ReplyTo:       "fs://channel/replies",
		TimeoutMs:     10,
	}
	s.ObserveResolved(entry)
	s.ObserveTimeout(entry)

	rows, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "timeout", rows[0].Outcome)
}
