// Package health implements the liveness probe: a periodic HTTP round-trip
// against the service root with a two-state HEALTHY/UNHEALTHY model. The
// same probe runs standalone for the container HEALTHCHECK via Check.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

// State is the observable probe state.
type State int

// probe states
const (
	StateHealthy State = iota
	StateUnhealthy
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateUnhealthy {
		return "unhealthy"
	}
	return "healthy"
}

// MarshalJSON renders the state as its string form.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// Config sets probe parameters; zero values get the stock 30s/5s/3/5s.
type Config struct {
	URL      string
	Interval time.Duration // time between probes
	Timeout  time.Duration // per-probe HTTP timeout
	Grace    time.Duration // startup delay before the first probe
	Retries  int           // consecutive failures tolerated before unhealthy
}

// Status is a snapshot of prober state for the status endpoint.
type Status struct {
	State     State     `json:"state"`
	Failures  int       `json:"consecutive_failures"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Prober periodically checks the service and tracks consecutive failures.
type Prober struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	grace    time.Duration
	retries  int
	client   *http.Client

	mu        sync.Mutex
	state     State
	failures  int
	lastCheck time.Time
	lastErr   string
}

// New creates a prober with defaults for unset config values.
func New(cfg Config) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Grace < 0 {
		cfg.Grace = 5 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Prober{
		url:      cfg.URL,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		grace:    cfg.Grace,
		retries:  cfg.Retries,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Run blocks until ctx is cancelled, probing on every interval tick after
// the startup grace period.
func (p *Prober) Run(ctx context.Context) {
	select {
	case <-time.After(p.grace):
	case <-ctx.Done():
		return
	}

	log.Printf("[INFO] health prober started for %s, every %v", p.url, p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx) // first probe right after the grace period
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

// Status returns the current probe snapshot.
func (p *Prober) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{State: p.state, Failures: p.failures, LastCheck: p.lastCheck, LastError: p.lastErr}
}

func (p *Prober) probe(ctx context.Context) {
	err := p.roundTrip(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCheck = time.Now()

	if err == nil {
		if p.state == StateUnhealthy {
			log.Printf("[INFO] health restored after %d failures", p.failures)
		}
		p.state, p.failures, p.lastErr = StateHealthy, 0, ""
		return
	}

	p.failures++
	p.lastErr = err.Error()
	log.Printf("[WARN] health probe failed (%d/%d): %v", p.failures, p.retries, err)
	if p.failures >= p.retries && p.state != StateUnhealthy {
		p.state = StateUnhealthy
		log.Printf("[ERROR] service unhealthy after %d consecutive probe failures", p.failures)
	}
}

func (p *Prober) roundTrip(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to make probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe round-trip failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe got status %d", resp.StatusCode)
	}
	return nil
}

// Check performs a single probe, used by the container HEALTHCHECK command.
func Check(url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("probe round-trip failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe got status %d", resp.StatusCode)
	}
	return nil
}
