package poll

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshp123/nibebridge/internal/uplink"
)

func ids(list ...string) []uplink.ParameterID {
	out := make([]uplink.ParameterID, len(list))
	for i, s := range list {
		out[i] = uplink.ParameterID(s)
	}
	return out
}

func TestRegistryDedup(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(ids("10", "20"))
	r.Subscribe(ids("20", "30"))
	r.Subscribe(ids("10", "20", "30"))

	union := r.Union()
	require.Len(t, union, 3, "cardinality never exceeds the number of distinct ids")

	pending := r.Pending(func(uplink.ParameterID) bool { return false })
	require.ElementsMatch(t, ids("10", "20", "30"), pending)
}

func TestRegistryPendingExcludesCached(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(ids("10", "20"))
	r.Subscribe(ids("20", "30"))

	cached := map[uplink.ParameterID]bool{"20": true}
	pending := r.Pending(func(id uplink.ParameterID) bool { return cached[id] })
	require.ElementsMatch(t, ids("10", "30"), pending)
}

func TestRegistryUnsubscribeIdempotent(t *testing.T) {
	r := NewRegistry()
	unsubA := r.Subscribe(ids("10", "20"))
	r.Subscribe(ids("20"))

	unsubA()
	unsubA()

	require.Equal(t, 1, r.Subscribers())
	pending := r.Pending(func(uplink.ParameterID) bool { return false })
	require.ElementsMatch(t, ids("20"), pending)
}

func TestRegistryUnionIsSnapshot(t *testing.T) {
	r := NewRegistry()
	unsub := r.Subscribe(ids("10"))

	union := r.Union()
	unsub()

	_, ok := union["10"]
	require.True(t, ok, "snapshot taken before removal stays intact")
	require.Empty(t, r.Union())
}
