package network

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"nomo/internal/logging"
)

// Checker performs one reachability check.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// HTTPChecker sends HEAD to URL. Any response below 500 counts as reachable.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

func (c HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// Prober feeds the monitor from periodic checks. While online it checks every
// interval; while offline it retries on an exponential schedule capped at
// maxBackoff.
type Prober struct {
	monitor  *Monitor
	checker  Checker
	interval time.Duration
	timeout  time.Duration
	backoff  *backoff.ExponentialBackOff
}

// NewProber creates a prober.
func NewProber(m *Monitor, c Checker, interval, maxBackoff, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if maxBackoff > 0 {
		b.MaxInterval = maxBackoff
		if b.InitialInterval > maxBackoff {
			b.InitialInterval = maxBackoff
		}
	}
	return &Prober{
		monitor:  m,
		checker:  c,
		interval: interval,
		timeout:  timeout,
		backoff:  b,
	}
}

// Probe runs one check and records the result.
func (p *Prober) Probe(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.checker.Check(checkCtx)
	if ctx.Err() != nil {
		// Shutting down; the result says nothing about connectivity.
		return p.monitor.IsOnline()
	}
	if err != nil {
		logging.NetworkDebug("Probe failed: %v", err)
	}
	p.monitor.Set(err == nil)
	return err == nil
}

// next returns the wait before the following probe.
func (p *Prober) next(online bool) time.Duration {
	if online {
		p.backoff.Reset()
		return p.interval
	}
	d := p.backoff.NextBackOff()
	if d == backoff.Stop {
		return p.backoff.MaxInterval
	}
	return d
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return nil
		}

		timer := time.NewTimer(p.next(online))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
