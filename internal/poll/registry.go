package poll

import (
	"sync"

	"github.com/google/uuid"

	"github.com/joshp123/nibebridge/internal/uplink"
)

// Registry tracks, per consumer, which parameter ids it needs. Many
// consumers overlap heavily in the points they read; the union-and-dedupe
// step keeps request volume proportional to distinct data needed, not to
// consumer count.
type Registry struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]map[uplink.ParameterID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[uuid.UUID]map[uplink.ParameterID]struct{}),
	}
}

// Subscribe registers a new consumer for the given ids and returns a
// capability that removes exactly that consumer's entry. Calling it more
// than once is a no-op after the first.
func (r *Registry) Subscribe(ids []uplink.ParameterID) func() {
	token := uuid.New()
	wanted := make(map[uplink.ParameterID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	r.mu.Lock()
	r.subscribers[token] = wanted
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, token)
			r.mu.Unlock()
		})
	}
}

// Union returns the de-duplicated set of ids wanted by all live
// subscribers. The result is a snapshot: removal during iteration by a
// concurrent teardown cannot corrupt it.
func (r *Registry) Union() map[uplink.ParameterID]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	union := make(map[uplink.ParameterID]struct{})
	for _, wanted := range r.subscribers {
		for id := range wanted {
			union[id] = struct{}{}
		}
	}
	return union
}

// Pending returns the wanted ids still missing from the cache: the union of
// all subscriptions minus ids for which cached reports true. Placeholder
// entries count as pending.
func (r *Registry) Pending(cached func(uplink.ParameterID) bool) []uplink.ParameterID {
	union := r.Union()
	pending := make([]uplink.ParameterID, 0, len(union))
	for id := range union {
		if !cached(id) {
			pending = append(pending, id)
		}
	}
	return pending
}

// Subscribers reports the number of live subscribers.
func (r *Registry) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}
