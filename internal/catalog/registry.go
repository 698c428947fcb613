package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrDuplicateService is returned when a name is already registered.
	ErrDuplicateService = errors.New("service name already registered")

	// ErrCapacityExceeded is returned when the registry is full.
	ErrCapacityExceeded = errors.New("service registry capacity exceeded")

	// ErrServiceNotFound is returned for lookups of unknown services.
	ErrServiceNotFound = errors.New("service not found")
)

// ServiceStore persists registry state. Updates are write-behind:
// the in-memory registry is authoritative for routing decisions.
type ServiceStore interface {
	UpsertService(ctx context.Context, svc Service) error
	UpdateServiceState(ctx context.Context, svc Service) error
}

// Config holds registry capacity and breaker tuning.
type Config struct {
	MaxServices      int           // registration capacity, default 50
	FailureThreshold int           // consecutive failures to open the breaker, default 5
	TimeoutDuration  time.Duration // open → half_open cooldown, default 60s
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		MaxServices:      50,
		FailureThreshold: 5,
		TimeoutDuration:  60 * time.Second,
	}
}

// record wraps a Service with its own lock. Health probes and request-driven
// outcome reports both mutate a record; every update is a single locked
// read-modify-write so concurrent reports cannot lose updates.
type record struct {
	mu                  sync.Mutex
	svc                 Service
	consecutiveFailures int
}

// Registry tracks registered tool-providing services, their health, and
// per-service circuit breakers. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	ordered []*record          // registration order
	byName  map[string]*record

	cfg    Config
	store  ServiceStore // nil disables persistence
	logger *zap.Logger
	clock  func() time.Time
}

// NewRegistry creates a registry. store may be nil for in-memory-only use.
func NewRegistry(cfg Config, store ServiceStore, logger *zap.Logger) *Registry {
	if cfg.MaxServices <= 0 {
		cfg.MaxServices = 50
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.TimeoutDuration <= 0 {
		cfg.TimeoutDuration = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName: make(map[string]*record),
		cfg:    cfg,
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
}

// RegisterParams describes a service registration request.
type RegisterParams struct {
	Name        string
	URL         string
	Description string
	Tools       []Tool
	Layer       Layer
	Domain      string
}

// Register adds a service. Duplicate names and registrations beyond
// capacity are rejected with an error value.
func (r *Registry) Register(ctx context.Context, p RegisterParams) error {
	if p.Name == "" {
		return errors.New("Register: service name is required")
	}
	if p.Layer == "" {
		p.Layer = LayerDomain
	}

	r.mu.Lock()
	if _, exists := r.byName[p.Name]; exists {
		r.mu.Unlock()
		return ErrDuplicateService
	}
	if len(r.ordered) >= r.cfg.MaxServices {
		r.mu.Unlock()
		return ErrCapacityExceeded
	}

	rec := &record{svc: Service{
		Name:         p.Name,
		URL:          p.URL,
		Description:  p.Description,
		Tools:        p.Tools,
		Layer:        p.Layer,
		Domain:       p.Domain,
		Active:       true,
		Health:       HealthHealthy,
		Breaker:      BreakerClosed,
		RegisteredAt: r.clock(),
	}}
	r.ordered = append(r.ordered, rec)
	r.byName[p.Name] = rec
	r.mu.Unlock()

	r.logger.Info("service registered",
		zap.String("service", p.Name),
		zap.String("layer", string(p.Layer)),
		zap.String("domain", p.Domain),
		zap.Int("tools", len(p.Tools)),
	)
	r.persist(ctx, rec, true)
	return nil
}

// Get returns a copy of the named service.
func (r *Registry) Get(name string) (Service, error) {
	r.mu.RLock()
	rec, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Service{}, ErrServiceNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.svc, nil
}

// List returns services in registration order. layer "" matches all layers.
func (r *Registry) List(layer Layer, activeOnly bool) []Service {
	r.mu.RLock()
	recs := make([]*record, len(r.ordered))
	copy(recs, r.ordered)
	r.mu.RUnlock()

	out := make([]Service, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		svc := rec.svc
		rec.mu.Unlock()
		if layer != "" && svc.Layer != layer {
			continue
		}
		if activeOnly && !svc.Active {
			continue
		}
		out = append(out, svc)
	}
	return out
}

// Routable returns active services whose breaker is not open, in
// registration order. Tools from open-breaker services are never offered.
func (r *Registry) Routable() []Service {
	all := r.List("", true)
	out := all[:0]
	for _, svc := range all {
		if svc.Breaker == BreakerOpen {
			continue
		}
		out = append(out, svc)
	}
	return out
}

// Deactivate soft-disables a service. Returns ErrServiceNotFound for
// unknown names.
func (r *Registry) Deactivate(ctx context.Context, name string) error {
	r.mu.RLock()
	rec, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return ErrServiceNotFound
	}
	rec.mu.Lock()
	rec.svc.Active = false
	rec.mu.Unlock()

	r.logger.Info("service deactivated", zap.String("service", name))
	r.persist(ctx, rec, false)
	return nil
}

// ReportOutcome records a call outcome for a service, updating its metrics
// and advancing the circuit breaker. Breaker transitions are evaluated on
// every report, not only on health probes. A bounded-timeout expiry counts
// as a failure and should be reported as one.
func (r *Registry) ReportOutcome(ctx context.Context, name string, success bool, latency time.Duration) error {
	r.mu.RLock()
	rec, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return ErrServiceNotFound
	}

	rec.mu.Lock()
	svc := &rec.svc

	svc.Metrics.TotalCalls++
	if success {
		svc.Metrics.SuccessCalls++
		rec.consecutiveFailures = 0
	} else {
		svc.Metrics.FailedCalls++
		rec.consecutiveFailures++
	}
	// Running mean over all observed calls.
	ms := float64(latency) / float64(time.Millisecond)
	n := float64(svc.Metrics.TotalCalls)
	svc.Metrics.AvgLatencyMs += (ms - svc.Metrics.AvgLatencyMs) / n

	prev := svc.Breaker
	r.advanceBreakerLocked(rec, success)
	next := svc.Breaker
	rec.mu.Unlock()

	if prev != next {
		r.logger.Warn("circuit breaker transition",
			zap.String("service", name),
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
		)
	}
	r.persist(ctx, rec, false)
	return nil
}

// advanceBreakerLocked applies one outcome to the breaker state machine.
// Caller holds rec.mu.
func (r *Registry) advanceBreakerLocked(rec *record, success bool) {
	svc := &rec.svc
	now := r.clock()

	switch svc.Breaker {
	case BreakerClosed:
		if !success && rec.consecutiveFailures >= r.cfg.FailureThreshold {
			svc.Breaker = BreakerOpen
			svc.BreakerOpenedAt = now
		}
	case BreakerOpen:
		if now.Sub(svc.BreakerOpenedAt) >= r.cfg.TimeoutDuration {
			svc.Breaker = BreakerHalfOpen
			// The report that arrived with the elapsed cooldown is the
			// half-open trial call.
			r.settleHalfOpenLocked(rec, success, now)
		}
	case BreakerHalfOpen:
		r.settleHalfOpenLocked(rec, success, now)
	}
}

func (r *Registry) settleHalfOpenLocked(rec *record, success bool, now time.Time) {
	svc := &rec.svc
	if success {
		svc.Breaker = BreakerClosed
		svc.Health = HealthHealthy
		rec.consecutiveFailures = 0
	} else {
		svc.Breaker = BreakerOpen
		svc.BreakerOpenedAt = now
		svc.Health = HealthDegraded
	}
}

// tickBreaker moves an idle open breaker to half_open once its cooldown
// has elapsed. Called from the health loop so recovery does not depend on
// traffic arriving.
func (r *Registry) tickBreaker(rec *record) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	svc := &rec.svc
	if svc.Breaker == BreakerOpen && r.clock().Sub(svc.BreakerOpenedAt) >= r.cfg.TimeoutDuration {
		svc.Breaker = BreakerHalfOpen
	}
}

// setHealth records a probe result. Caller is the health loop.
func (r *Registry) setHealth(rec *record, status HealthStatus) {
	rec.mu.Lock()
	rec.svc.Health = status
	rec.svc.LastHealthCheck = r.clock()
	rec.mu.Unlock()
}

// records returns a point-in-time snapshot of the record pointers.
func (r *Registry) records() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*record, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// persist mirrors a record to the store, best-effort.
func (r *Registry) persist(ctx context.Context, rec *record, isNew bool) {
	if r.store == nil {
		return
	}
	rec.mu.Lock()
	svc := rec.svc
	rec.mu.Unlock()

	var err error
	if isNew {
		err = r.store.UpsertService(ctx, svc)
	} else {
		err = r.store.UpdateServiceState(ctx, svc)
	}
	if err != nil {
		r.logger.Warn("service store write failed",
			zap.String("service", svc.Name),
			zap.Error(err),
		)
	}
}
