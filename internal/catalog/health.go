package catalog

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultProbeTimeout = 5 * time.Second

// HealthChecker probes every active service on a fixed interval and keeps
// the registry's health state current. Probe failures are non-fatal; the
// service is retried on the next cycle.
type HealthChecker struct {
	registry *Registry
	client   *http.Client
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthChecker creates a checker with the given probe interval.
func NewHealthChecker(registry *Registry, interval time.Duration, logger *zap.Logger) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		registry: registry,
		client:   &http.Client{Timeout: defaultProbeTimeout},
		interval: interval,
		logger:   logger,
	}
}

// Start launches the background probe loop. Call Stop to shut it down.
func (h *HealthChecker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(ctx)
	h.logger.Info("health check loop started", zap.Duration("interval", h.interval))
}

// Stop cancels the loop and waits for it to exit. In-flight probes are
// abandoned via context cancellation.
func (h *HealthChecker) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.logger.Info("health check loop stopped")
}

func (h *HealthChecker) loop(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.runCycle(ctx)
		}
	}
}

func (h *HealthChecker) runCycle(ctx context.Context) {
	recs := h.registry.records()
	healthy := 0
	probed := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}

		rec.mu.Lock()
		active := rec.svc.Active
		name := rec.svc.Name
		url := rec.svc.URL
		rec.mu.Unlock()
		if !active {
			continue
		}

		// An idle open breaker may half-open on the probe tick even when
		// no traffic is arriving.
		h.registry.tickBreaker(rec)

		probed++
		status := h.probe(ctx, url)
		h.registry.setHealth(rec, status)
		if status == HealthHealthy {
			healthy++
		} else {
			h.logger.Warn("service probe unhealthy",
				zap.String("service", name),
				zap.String("status", string(status)),
			)
		}
	}
	h.logger.Debug("health check cycle complete",
		zap.Int("healthy", healthy),
		zap.Int("probed", probed),
	)
}

// probe issues GET {url}/health with a bounded timeout. A 2xx answer is
// healthy, any other answer is degraded, and a transport error is down.
func (h *HealthChecker) probe(ctx context.Context, url string) HealthStatus {
	if url == "" {
		return HealthDown
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
	if err != nil {
		return HealthDown
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return HealthDown
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return HealthHealthy
	}
	return HealthDegraded
}
