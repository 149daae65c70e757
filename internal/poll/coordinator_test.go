package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joshp123/nibebridge/internal/uplink"
)

type fakeAPI struct {
	mu            sync.Mutex
	status        []uplink.StatusIcon
	notifications []uplink.Notification
	parameters    map[uplink.ParameterID]*uplink.Parameter
	paramErrs     map[uplink.ParameterID]error
	fetched       []uplink.ParameterID
	blockFetch    chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		parameters: make(map[uplink.ParameterID]*uplink.Parameter),
		paramErrs:  make(map[uplink.ParameterID]error),
	}
}

func (f *fakeAPI) GetStatus(context.Context, uplink.SystemID) ([]uplink.StatusIcon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeAPI) GetNotifications(context.Context, uplink.SystemID) ([]uplink.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notifications, nil
}

func (f *fakeAPI) GetParameter(_ context.Context, _ uplink.SystemID, id uplink.ParameterID) (*uplink.Parameter, error) {
	f.mu.Lock()
	block := f.blockFetch
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	if err := f.paramErrs[id]; err != nil {
		return nil, err
	}
	return f.parameters[id], nil
}

type fakeAlerter struct {
	mu        sync.Mutex
	created   []uplink.Notification
	dismissed []uplink.Notification
}

func (a *fakeAlerter) Notify(_ uplink.SystemID, n uplink.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, n)
}

func (a *fakeAlerter) Dismiss(_ uplink.SystemID, n uplink.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismissed = append(a.dismissed, n)
}

func newCoordinator(api API, store *Store, reg *Registry, alerter Alerter, onChange func(uplink.SystemID)) *Coordinator {
	return NewCoordinator(Config{
		SystemID: 123,
		API:      api,
		Store:    store,
		Registry: reg,
		Alerter:  alerter,
		FreshFor: 2 * time.Minute,
		OnChange: onChange,
		Logger:   zap.NewNop(),
	})
}

func TestCycleOverlappingSubscribers(t *testing.T) {
	api := newFakeAPI()
	api.parameters["10"] = param("10", "compressor frequency", "52")
	api.parameters["30"] = param("30", "degree minutes", "-240")
	api.status = []uplink.StatusIcon{{
		Title:      "Heating",
		Parameters: []uplink.Parameter{*param("20", "supply temp", "38.1")},
	}}

	store := NewStore()
	reg := NewRegistry()
	reg.Subscribe(ids("10", "20"))
	reg.Subscribe(ids("20", "30"))

	require.ElementsMatch(t, ids("10", "20", "30"),
		reg.Pending(store.Fresh), "before any fetch everything is pending")

	changes := 0
	c := newCoordinator(api, store, reg, nil, func(uplink.SystemID) { changes++ })
	c.Cycle(context.Background())

	require.ElementsMatch(t, ids("10", "30"), api.fetched,
		"status payload already covered 20, it must not be re-requested")
	require.NotNil(t, store.Get("10"))
	require.NotNil(t, store.Get("20"))
	require.NotNil(t, store.Get("30"))
	require.Equal(t, 1, changes, "one coarse change signal per cycle")
	require.ElementsMatch(t, []string{"Heating"}, c.Statuses())
}

func TestCycleNotificationDiff(t *testing.T) {
	api := newFakeAPI()
	alerter := &fakeAlerter{}
	store := NewStore()
	reg := NewRegistry()
	c := newCoordinator(api, store, reg, alerter, nil)

	n1 := uplink.Notification{NotificationID: 1, Header: "Low pressure"}
	n2 := uplink.Notification{NotificationID: 2, Header: "Sensor fault"}
	n3 := uplink.Notification{NotificationID: 3, Header: "High temp"}

	api.notifications = []uplink.Notification{n1, n2}
	c.Cycle(context.Background())

	require.Equal(t, []uplink.Notification{n1, n2}, alerter.created)
	require.Empty(t, alerter.dismissed)

	alerter.created = nil
	api.mu.Lock()
	api.notifications = []uplink.Notification{n2, n3}
	api.mu.Unlock()
	c.Cycle(context.Background())

	require.Equal(t, []uplink.Notification{n3}, alerter.created)
	require.Equal(t, []uplink.Notification{n1}, alerter.dismissed)
	require.Equal(t, []uplink.Notification{n2, n3}, c.Notifications())
}

func TestCycleFetchFailureIsolated(t *testing.T) {
	api := newFakeAPI()
	api.parameters["10"] = param("10", "a", "1")
	api.paramErrs["20"] = errors.New("upstream 503")
	api.parameters["30"] = param("30", "c", "3")

	store := NewStore()
	reg := NewRegistry()
	reg.Subscribe(ids("10", "20", "30"))

	c := newCoordinator(api, store, reg, nil, nil)
	c.Cycle(context.Background())

	require.NotNil(t, store.Get("10"))
	require.Nil(t, store.Get("20"), "failed fetch surfaces as still-unknown")
	require.NotNil(t, store.Get("30"))

	// Next cycle retries the failed id.
	api.mu.Lock()
	api.fetched = nil
	api.paramErrs = map[uplink.ParameterID]error{}
	api.parameters["20"] = param("20", "b", "2")
	api.mu.Unlock()
	c.Cycle(context.Background())
	require.Contains(t, api.fetched, uplink.ParameterID("20"))
	require.NotNil(t, store.Get("20"))
}

func TestCancelDuringInFlightCycle(t *testing.T) {
	api := newFakeAPI()
	api.parameters["10"] = param("10", "a", "1")
	block := make(chan struct{})
	api.blockFetch = block

	store := NewStore()
	reg := NewRegistry()
	reg.Subscribe(ids("10"))

	var mu sync.Mutex
	cycles := 0
	cycleDone := make(chan struct{}, 8)

	c := newCoordinator(api, store, reg, nil, func(uplink.SystemID) {
		mu.Lock()
		cycles++
		mu.Unlock()
		cycleDone <- struct{}{}
	})

	s := NewScheduler(zap.NewNop())
	cancel := s.Schedule(time.Millisecond, func() { c.Cycle(context.Background()) })

	// Wait for the cycle to be blocked inside the parameter fetch, cancel,
	// then let it finish.
	time.Sleep(30 * time.Millisecond)
	cancel()
	close(block)

	select {
	case <-cycleDone:
	case <-time.After(time.Second):
		t.Fatal("in-flight cycle did not complete after cancel")
	}

	require.NotNil(t, store.Get("10"), "the interrupted cycle still updates the store once")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, cycles, "no further cycle may be scheduled after cancel")
}
