package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"
)

// Poller drives periodic inbox snapshot refreshes while no inbox socket is
// open. It is a fixed-rate background refresh, not a retry loop: fetch
// failures are logged and swallowed, and the interval never changes.
type Poller struct {
	interval time.Duration
	refresh  func(ctx context.Context) error
	log      *slog.Logger

	mu     gosync.Mutex
	cancel context.CancelFunc
}

// NewPoller builds a stopped poller. refresh performs one snapshot fetch
// and feeds it to the reconciler.
func NewPoller(interval time.Duration, refresh func(ctx context.Context) error, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{interval: interval, refresh: refresh, log: log}
}

// Start begins ticking. No-op while already running.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
	p.log.Info("polling fallback started", slog.Duration("interval", p.interval))
}

// Stop halts ticking. Safe to call repeatedly or while stopped.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		p.log.Info("polling fallback stopped")
	}
}

// Running reports whether the poller is ticking.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// BindHealth wires the poller to a stream group: it runs exactly while the
// group is down.
func (p *Poller) BindHealth(onChange func(func(live bool))) {
	onChange(func(live bool) {
		if live {
			p.Stop()
		} else {
			p.Start()
		}
	})
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.refresh(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("poll refresh failed", slog.Any("error", err))
			}
		}
	}
}
