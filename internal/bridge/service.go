// Package bridge exposes the polled heat pump state to in-process consumers:
// read a cached parameter, subscribe to keep it polled, write a setting
// through to the cloud.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/nibebridge/internal/poll"
	"github.com/joshp123/nibebridge/internal/uplink"
)

// UplinkAPI is the full client surface the bridge consumes.
type UplinkAPI interface {
	poll.API
	GetSystems(ctx context.Context) ([]uplink.System, error)
	GetSystem(ctx context.Context, systemID uplink.SystemID) (uplink.System, error)
	GetUnits(ctx context.Context, systemID uplink.SystemID) ([]uplink.Unit, error)
	GetCategories(ctx context.Context, systemID uplink.SystemID, unitID int) ([]uplink.Category, error)
	PutParameter(ctx context.Context, systemID uplink.SystemID, parameterID uplink.ParameterID, value string) (string, error)
	GetSmartHomeMode(ctx context.Context, systemID uplink.SystemID) (string, error)
	PutSmartHomeMode(ctx context.Context, systemID uplink.SystemID, mode string) error
}

// Config wires a Service.
type Config struct {
	API          UplinkAPI
	ScanInterval time.Duration

	// Watch holds the configured per-system watch lists. Every listed
	// system must exist in the account; the ids are subscribed for the
	// service lifetime, on top of whatever consumers subscribe later.
	Watch map[uplink.SystemID][]uplink.ParameterID

	Alerter  poll.Alerter          // optional
	OnChange func(uplink.SystemID) // optional, e.g. an MQTT announce
	Logger   *zap.Logger
}

type system struct {
	meta        uplink.System
	store       *poll.Store
	registry    *poll.Registry
	coordinator *poll.Coordinator
	cancel      poll.CancelFunc
}

// Service drives one poll loop per discovered system and serves the cached
// results. All reads are served from memory; only writes and the poll loop
// itself touch the cloud.
type Service struct {
	api       UplinkAPI
	scheduler *poll.Scheduler
	interval  time.Duration
	watch     map[uplink.SystemID][]uplink.ParameterID
	alerter   poll.Alerter
	onChange  func(uplink.SystemID)
	log       *zap.Logger

	changes chan uplink.SystemID

	mu      sync.Mutex
	systems map[uplink.SystemID]*system
	started bool
}

var errUnknownSystem = fmt.Errorf("unknown system")

func NewService(cfg Config) (*Service, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("uplink API is required")
	}
	interval := cfg.ScanInterval
	if interval <= 0 {
		interval = time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		api:       cfg.API,
		scheduler: poll.NewScheduler(log),
		interval:  interval,
		watch:     cfg.Watch,
		alerter:   cfg.Alerter,
		onChange:  cfg.OnChange,
		log:       log,
		changes:   make(chan uplink.SystemID, 16),
		systems:   make(map[uplink.SystemID]*system),
	}, nil
}

// Start discovers the account's systems, runs a first refresh for each and
// arms the poll loops. The first refresh is synchronous so callers see
// populated state once Start returns.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service already started")
	}
	s.started = true
	s.mu.Unlock()

	metas, err := s.api.GetSystems(ctx)
	if err != nil {
		return fmt.Errorf("discover systems: %w", err)
	}
	if len(metas) == 0 {
		return fmt.Errorf("account has no systems")
	}

	discovered := make(map[uplink.SystemID]struct{}, len(metas))
	for _, meta := range metas {
		discovered[meta.SystemID] = struct{}{}
	}
	for systemID := range s.watch {
		if _, ok := discovered[systemID]; !ok {
			return fmt.Errorf("configured system %d not found in account", systemID)
		}
	}

	for _, meta := range metas {
		sys := &system{
			meta:     meta,
			store:    poll.NewStore(),
			registry: poll.NewRegistry(),
		}
		// The configured watch list is subscribed before the first cycle
		// so those points are fetched right away and held for the service
		// lifetime.
		if ids := s.watch[meta.SystemID]; len(ids) > 0 {
			sys.registry.Subscribe(ids)
		}
		sys.coordinator = poll.NewCoordinator(poll.Config{
			SystemID: meta.SystemID,
			API:      s.api,
			Store:    sys.store,
			Registry: sys.registry,
			Alerter:  s.alerter,
			// Values that a status fetch pushed in stay good for two scan
			// intervals before the loop re-requests them.
			FreshFor: 2 * s.interval,
			OnChange: s.announce,
			Logger:   s.log,
		})

		sys.coordinator.Cycle(ctx)
		coordinator := sys.coordinator
		sys.cancel = s.scheduler.Schedule(s.interval, func() {
			cycleCtx, cancel := context.WithTimeout(context.Background(), s.interval)
			defer cancel()
			coordinator.Cycle(cycleCtx)
		})

		s.mu.Lock()
		s.systems[meta.SystemID] = sys
		s.mu.Unlock()

		s.log.Info("polling system",
			zap.Int("system", int(meta.SystemID)),
			zap.String("name", meta.Name),
			zap.Duration("interval", s.interval))
	}
	return nil
}

// Stop disarms every poll loop. In-flight cycles run to completion.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sys := range s.systems {
		if sys.cancel != nil {
			sys.cancel()
		}
	}
}

// Systems lists the discovered installations.
func (s *Service) Systems() []uplink.System {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uplink.System, 0, len(s.systems))
	for _, sys := range s.systems {
		out = append(out, sys.meta)
	}
	return out
}

// System returns one installation's metadata.
func (s *Service) System(systemID uplink.SystemID) (uplink.System, error) {
	sys, err := s.system(systemID)
	if err != nil {
		return uplink.System{}, err
	}
	return sys.meta, nil
}

// GetParameter returns the cached snapshot for a parameter, nil while it is
// still loading or was never subscribed. It never performs I/O.
func (s *Service) GetParameter(systemID uplink.SystemID, parameterID uplink.ParameterID) (*uplink.Parameter, error) {
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}
	return sys.store.Get(parameterID), nil
}

// Subscribe keeps the given parameters polled until the returned release
// function is called. The release capability is idempotent.
func (s *Service) Subscribe(systemID uplink.SystemID, ids []uplink.ParameterID) (func(), error) {
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}
	return sys.registry.Subscribe(ids), nil
}

// SetParameter writes a settable parameter straight through to the cloud and
// returns the vendor's per-parameter status. The cache is left alone: the
// pump may clamp or reject the value, so the next poll is the truth.
func (s *Service) SetParameter(ctx context.Context, systemID uplink.SystemID, parameterID uplink.ParameterID, value string) (string, error) {
	if _, err := s.system(systemID); err != nil {
		return "", err
	}
	return s.api.PutParameter(ctx, systemID, parameterID, value)
}

// Statuses returns the active status icon titles for a system.
func (s *Service) Statuses(systemID uplink.SystemID) ([]string, error) {
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}
	return sys.coordinator.Statuses(), nil
}

// Notifications returns the currently active alarms for a system.
func (s *Service) Notifications(systemID uplink.SystemID) ([]uplink.Notification, error) {
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}
	return sys.coordinator.Notifications(), nil
}

// Units lists the slave units of a system, straight from the cloud.
func (s *Service) Units(ctx context.Context, systemID uplink.SystemID) ([]uplink.Unit, error) {
	if _, err := s.system(systemID); err != nil {
		return nil, err
	}
	return s.api.GetUnits(ctx, systemID)
}

// Categories lists one unit's service-info categories with their parameters,
// straight from the cloud. Useful for discovering what a pump can report.
func (s *Service) Categories(ctx context.Context, systemID uplink.SystemID, unitID int) ([]uplink.Category, error) {
	if _, err := s.system(systemID); err != nil {
		return nil, err
	}
	return s.api.GetCategories(ctx, systemID, unitID)
}

// SmartHomeMode reads the system's current smart home mode from the cloud.
func (s *Service) SmartHomeMode(ctx context.Context, systemID uplink.SystemID) (string, error) {
	if _, err := s.system(systemID); err != nil {
		return "", err
	}
	return s.api.GetSmartHomeMode(ctx, systemID)
}

// SetSmartHomeMode writes the system's smart home mode through to the cloud.
func (s *Service) SetSmartHomeMode(ctx context.Context, systemID uplink.SystemID, mode string) error {
	if _, err := s.system(systemID); err != nil {
		return err
	}
	return s.api.PutSmartHomeMode(ctx, systemID, mode)
}

// Changes delivers one coarse signal per completed poll cycle. Consumers
// re-read whatever they care about; no per-parameter deltas are carried. The
// channel coalesces under a slow reader.
func (s *Service) Changes() <-chan uplink.SystemID {
	return s.changes
}

func (s *Service) announce(systemID uplink.SystemID) {
	select {
	case s.changes <- systemID:
	default:
		// Slow reader; it will re-read on the next signal anyway.
	}
	if s.onChange != nil {
		s.onChange(systemID)
	}
}

func (s *Service) system(systemID uplink.SystemID) (*system, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sys, ok := s.systems[systemID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownSystem, systemID)
	}
	return sys, nil
}
