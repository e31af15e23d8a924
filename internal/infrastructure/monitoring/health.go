package monitoring

import (
	"context"
	"sync"
	"time"

	"huddle/internal/core/ports"
)

// HealthChecker aggregates named dependency probes for the readiness
// endpoint. Probes run on demand, each under its own timeout.
type HealthChecker struct {
	mu     sync.RWMutex
	probes []probe
}

type probe struct {
	name    string
	check   func(ctx context.Context) error
	timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// AddCheck registers a named probe.
func (h *HealthChecker) AddCheck(name string, timeout time.Duration, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, check: check, timeout: timeout})
}

// AddRepositoryCheck probes the call repository with a live-session scan.
func (h *HealthChecker) AddRepositoryCheck(repo ports.CallRepository, timeout time.Duration) {
	h.AddCheck("call_repository", timeout, func(ctx context.Context) error {
		_, err := repo.ListActive(ctx)
		return err
	})
}

// CheckAll runs every probe and reports the aggregate status.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := append([]probe(nil), h.probes...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(probes)),
	}

	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.check(probeCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[p.name] = err.Error()
		} else {
			status.Checks[p.name] = "healthy"
		}
	}
	return status
}

// IsReady reports whether every probe passes.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
