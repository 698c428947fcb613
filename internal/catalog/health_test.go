package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbe_StatusMapping(t *testing.T) {
	healthySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("probe hit %s, want /health", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthySrv.Close()

	degradedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer degradedSrv.Close()

	h := NewHealthChecker(testRegistry(DefaultConfig()), time.Second, nil)

	tests := []struct {
		name string
		url  string
		want HealthStatus
	}{
		{"2xx is healthy", healthySrv.URL, HealthHealthy},
		{"5xx is degraded", degradedSrv.URL, HealthDegraded},
		{"unreachable is down", "http://127.0.0.1:1", HealthDown},
		{"empty url is down", "", HealthDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.probe(context.Background(), tt.url); got != tt.want {
				t.Errorf("probe(%s) = %s, want %s", tt.url, got, tt.want)
			}
		})
	}
}

func TestHealthChecker_CycleUpdatesRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := testRegistry(DefaultConfig())
	if err := r.Register(context.Background(), RegisterParams{Name: "up", URL: srv.URL}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(context.Background(), RegisterParams{Name: "gone", URL: "http://127.0.0.1:1"}); err != nil {
		t.Fatal(err)
	}

	h := NewHealthChecker(r, time.Second, nil)
	h.runCycle(context.Background())

	up, _ := r.Get("up")
	if up.Health != HealthHealthy {
		t.Errorf("up health = %s, want healthy", up.Health)
	}
	if up.LastHealthCheck.IsZero() {
		t.Error("probe did not stamp LastHealthCheck")
	}
	gone, _ := r.Get("gone")
	if gone.Health != HealthDown {
		t.Errorf("gone health = %s, want down", gone.Health)
	}
}

func TestHealthChecker_SkipsInactiveServices(t *testing.T) {
	r := testRegistry(DefaultConfig())
	ctx := context.Background()
	if err := r.Register(ctx, RegisterParams{Name: "off", URL: "http://127.0.0.1:1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Deactivate(ctx, "off"); err != nil {
		t.Fatal(err)
	}

	h := NewHealthChecker(r, time.Second, nil)
	h.runCycle(ctx)

	svc, _ := r.Get("off")
	if !svc.LastHealthCheck.IsZero() {
		t.Error("inactive service was probed")
	}
}

func TestHealthChecker_StartStop(t *testing.T) {
	r := testRegistry(DefaultConfig())
	h := NewHealthChecker(r, 10*time.Millisecond, nil)
	h.Start()

	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
