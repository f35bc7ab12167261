// Package netwatch provides the connectivity signal the sync engine gates
// on: a boolean "is online" query plus a channel that fires on every
// offline -> online transition.
package netwatch

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Signal reports whether the remote is reachable.
type Signal interface {
	Online() bool
}

// Watcher is a Signal that also announces coming online.
type Watcher interface {
	Signal
	// Transitions fires once per offline -> online transition. Transitions
	// that happen while nobody reads coalesce into one.
	Transitions() <-chan struct{}
}

// transitions is the coalescing notifier shared by Prober and Switch.
type transitions struct {
	online atomic.Bool
	ch     chan struct{}
}

func (t *transitions) set(online bool) (changed bool) {
	was := t.online.Swap(online)
	if online && !was {
		select {
		case t.ch <- struct{}{}:
		default:
		}
	}
	return was != online
}

// Switch is a manually toggled signal. It starts in the given state.
type Switch struct {
	transitions
}

// NewSwitch returns a Switch. Starting online does not fire a transition.
func NewSwitch(online bool) *Switch {
	s := &Switch{transitions: transitions{ch: make(chan struct{}, 1)}}
	s.online.Store(online)
	return s
}

// Online reports the current state.
func (s *Switch) Online() bool { return s.online.Load() }

// Set changes the state, firing a transition when going online.
func (s *Switch) Set(online bool) { s.set(online) }

// Transitions implements Watcher.
func (s *Switch) Transitions() <-chan struct{} { return s.ch }

// Prober polls <base>/health. Any 2xx answer means online; anything else,
// including a timeout, means offline. An empty base URL is permanently
// offline.
type Prober struct {
	transitions
	healthURL string
	client    *http.Client
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// NewProber returns a Prober for the service at baseURL, checking every
// interval. A nil client uses http.DefaultClient.
func NewProber(baseURL string, client *http.Client, interval time.Duration, logger *zap.Logger) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := interval
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	var healthURL string
	if baseURL != "" {
		healthURL = strings.TrimRight(baseURL, "/") + "/health"
	}
	return &Prober{
		transitions: transitions{ch: make(chan struct{}, 1)},
		healthURL:   healthURL,
		client:      client,
		interval:    interval,
		timeout:     timeout,
		logger:      logger,
	}
}

// Online reports the result of the latest probe.
func (p *Prober) Online() bool { return p.online.Load() }

// Transitions implements Watcher.
func (p *Prober) Transitions() <-chan struct{} { return p.ch }

// Check probes once and records the result.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.probe(ctx)
	if p.set(online) {
		p.logger.Info("connectivity changed", zap.Bool("online", online))
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	if p.healthURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		p.logger.Debug("health probe request", zap.Error(err))
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("health probe failed", zap.String("url", p.healthURL), zap.Error(err))
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
