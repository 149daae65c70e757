package poll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/nibebridge/internal/uplink"
)

// API is the slice of the remote client one poll cycle consumes.
type API interface {
	GetStatus(ctx context.Context, systemID uplink.SystemID) ([]uplink.StatusIcon, error)
	GetNotifications(ctx context.Context, systemID uplink.SystemID) ([]uplink.Notification, error)
	GetParameter(ctx context.Context, systemID uplink.SystemID, parameterID uplink.ParameterID) (*uplink.Parameter, error)
}

// Alerter receives newly raised and newly cleared notifications.
type Alerter interface {
	Notify(systemID uplink.SystemID, n uplink.Notification)
	Dismiss(systemID uplink.SystemID, n uplink.Notification)
}

// Coordinator runs the refresh cycle for one system: notifications, status
// icons, then a concurrent fetch of whatever subscribed parameters the
// status payloads did not already cover. Cycle is only ever invoked from
// the scheduler, so at most one cycle per system is in flight.
type Coordinator struct {
	api      API
	store    *Store
	registry *Registry
	alerter  Alerter
	log      *zap.Logger
	systemID uplink.SystemID
	freshFor time.Duration
	onChange func(uplink.SystemID)

	mu       sync.Mutex
	notice   []uplink.Notification
	statuses map[string]struct{}
}

// Config wires a Coordinator. FreshFor is the window during which a value
// pushed in by a status fetch is not re-requested; the original scan
// interval doubled is a good fit.
type Config struct {
	SystemID uplink.SystemID
	API      API
	Store    *Store
	Registry *Registry
	Alerter  Alerter
	FreshFor time.Duration
	OnChange func(uplink.SystemID)
	Logger   *zap.Logger
}

func NewCoordinator(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		api:      cfg.API,
		store:    cfg.Store,
		registry: cfg.Registry,
		alerter:  cfg.Alerter,
		log:      log.With(zap.Int("system", int(cfg.SystemID))),
		systemID: cfg.SystemID,
		freshFor: cfg.FreshFor,
		onChange: cfg.OnChange,
		statuses: make(map[string]struct{}),
	}
}

// Cycle runs one full refresh. Individual fetch failures are isolated and
// retried implicitly on the next scheduled cycle.
func (c *Coordinator) Cycle(ctx context.Context) {
	start := time.Now()
	cyclesTotal.WithLabelValues(c.systemID.Label()).Inc()

	c.updateNotifications(ctx)
	c.updateStatuses(ctx)
	c.fetchPending(ctx)

	cycleDuration.WithLabelValues(c.systemID.Label()).Observe(time.Since(start).Seconds())

	if c.onChange != nil {
		c.onChange(c.systemID)
	}
}

func (c *Coordinator) updateNotifications(ctx context.Context) {
	notice, err := c.api.GetNotifications(ctx, c.systemID)
	if err != nil {
		cycleErrors.WithLabelValues(c.systemID.Label(), "notifications").Inc()
		c.log.Warn("notification fetch failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	prev := c.notice
	c.notice = notice
	c.mu.Unlock()

	// Diff by value equality: the vendor does not guarantee stable order.
	added := diffNotifications(notice, prev)
	removed := diffNotifications(prev, notice)

	if c.alerter == nil {
		return
	}
	for _, n := range added {
		c.alerter.Notify(c.systemID, n)
	}
	for _, n := range removed {
		c.alerter.Dismiss(c.systemID, n)
	}
}

func (c *Coordinator) updateStatuses(ctx context.Context) {
	icons, err := c.api.GetStatus(ctx, c.systemID)
	if err != nil {
		cycleErrors.WithLabelValues(c.systemID.Label(), "status").Inc()
		c.log.Warn("status fetch failed", zap.Error(err))
		return
	}

	statuses := make(map[string]struct{}, len(icons))
	for _, icon := range icons {
		statuses[icon.Title] = struct{}{}
		for i := range icon.Parameters {
			p := icon.Parameters[i]
			c.store.Set(p.ParameterID, &p, c.freshFor)
		}
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

func (c *Coordinator) fetchPending(ctx context.Context) {
	union := c.registry.Union()
	wanted := make([]uplink.ParameterID, 0, len(union))
	for id := range union {
		wanted = append(wanted, id)
	}
	c.store.Want(wanted)
	c.store.Prune(union)

	pending := c.registry.Pending(c.store.Fresh)
	pendingParameters.WithLabelValues(c.systemID.Label()).Set(float64(len(pending)))

	var wg sync.WaitGroup
	for _, id := range pending {
		wg.Add(1)
		go func(id uplink.ParameterID) {
			defer wg.Done()
			p, err := c.api.GetParameter(ctx, c.systemID, id)
			if err != nil {
				cycleErrors.WithLabelValues(c.systemID.Label(), "parameter").Inc()
				c.log.Debug("parameter fetch failed",
					zap.String("parameter", id.String()), zap.Error(err))
				return
			}
			c.store.Set(id, p, 0)
			parametersFetched.WithLabelValues(c.systemID.Label()).Inc()
		}(id)
	}
	wg.Wait()
}

// Statuses returns the titles of the currently active status icons.
func (c *Coordinator) Statuses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.statuses))
	for title := range c.statuses {
		out = append(out, title)
	}
	return out
}

// Notifications returns the last fetched notification list.
func (c *Coordinator) Notifications() []uplink.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uplink.Notification, len(c.notice))
	copy(out, c.notice)
	return out
}

func diffNotifications(have, against []uplink.Notification) []uplink.Notification {
	var out []uplink.Notification
	for _, n := range have {
		found := false
		for _, o := range against {
			if n == o {
				found = true
				break
			}
		}
		if !found {
			out = append(out, n)
		}
	}
	return out
}
