package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the whole /health request. Probes still running
// at the deadline are reported as timed out.
const healthCheckTimeout = 2 * time.Second

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthProbe checks one dependency, such as the database pool or the
// inference service.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// probeOutcome is written once by the probe's goroutine. done stays false
// for a probe that missed the deadline.
type probeOutcome struct {
	done bool
	err  error
}

// HandleHealth runs the registered probes in parallel. Any failure, panic or
// timeout turns the response into a 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: statusHealthy})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		outcomes = make([]probeOutcome, len(probes))
		wg       sync.WaitGroup
	)
	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runProbe(ctx, p)
			mu.Lock()
			outcomes[i] = probeOutcome{done: true, err: err}
			mu.Unlock()
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	resp := healthResponse{Status: statusHealthy, Components: make(map[string]componentStatus, len(probes))}
	for i, p := range probes {
		c := componentStatus{Status: statusHealthy}
		switch o := outcomes[i]; {
		case !o.done:
			c = componentStatus{Status: statusUnhealthy, Message: "health check timed out"}
		case o.err != nil:
			c = componentStatus{Status: statusUnhealthy, Message: o.err.Error()}
		}
		if c.Status != statusHealthy {
			resp.Status = statusUnhealthy
		}
		resp.Components[p.Name()] = c
	}

	code := http.StatusOK
	if resp.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	JSON(w, r, code, resp)
}

// runProbe converts a panicking probe into an error.
func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
