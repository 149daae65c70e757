package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshp123/nibebridge/internal/uplink"
)

func param(id uplink.ParameterID, title string, value uplink.Value) *uplink.Parameter {
	return &uplink.Parameter{
		ParameterID: id,
		Title:       title,
		Value:       value,
		RawValue:    value,
	}
}

func TestStoreSnapshotReplace(t *testing.T) {
	s := NewStore()

	p1 := &uplink.Parameter{
		ParameterID: "40004",
		Title:       "outdoor temp",
		Unit:        "°C",
		Value:       "21.5",
		Designation: "BT1",
	}
	p2 := &uplink.Parameter{
		ParameterID: "40004",
		Value:       "22.0",
	}

	s.Set("40004", p1, 0)
	s.Set("40004", p2, 0)

	got := s.Get("40004")
	require.Equal(t, p2, got)
	require.Empty(t, got.Unit, "no fields may be inherited from the prior snapshot")
	require.Empty(t, got.Designation)
}

func TestStoreWantCreatesPlaceholders(t *testing.T) {
	s := NewStore()
	s.Set("10", param("10", "a", "1"), 0)

	s.Want([]uplink.ParameterID{"10", "20"})

	require.NotNil(t, s.Get("10"), "want must not clobber an existing value")
	require.Nil(t, s.Get("20"))
	require.Equal(t, 2, s.Len())
}

func TestStoreFreshness(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Set("10", param("10", "a", "1"), time.Minute)
	s.Set("20", param("20", "b", "2"), 0)
	s.Want([]uplink.ParameterID{"30"})

	require.True(t, s.Fresh("10"))
	require.False(t, s.Fresh("20"), "zero window means stale immediately")
	require.False(t, s.Fresh("30"), "placeholder is never fresh")
	require.False(t, s.Fresh("99"), "unknown id is never fresh")

	now = now.Add(2 * time.Minute)
	require.False(t, s.Fresh("10"), "window lapsed")
}

func TestStorePrune(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Set("10", param("10", "a", "1"), 0)
	s.Set("20", param("20", "b", "2"), time.Minute)
	s.Want([]uplink.ParameterID{"30"})

	s.Prune(map[uplink.ParameterID]struct{}{"30": {}})

	require.Nil(t, s.Get("10"), "unwanted stale entry is dropped")
	require.NotNil(t, s.Get("20"), "status-pushed value survives until its window lapses")
	require.Equal(t, 2, s.Len())
}
