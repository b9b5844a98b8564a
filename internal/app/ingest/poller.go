package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/infra/streamapi"
)

// StatusFetcher retrieves the aggregate streaming status.
type StatusFetcher interface {
	StreamingStatus(ctx context.Context) (streamapi.StreamingStatus, error)
}

// Poller refreshes the streaming status mirror on a fixed interval.
// Polling is suspended while the host view is hidden. Failures are
// logged and never touch the queue.
type Poller struct {
	api      StatusFetcher
	interval time.Duration

	mu     sync.RWMutex
	status streamapi.StreamingStatus

	visible atomic.Bool
}

// NewPoller creates a poller. The view starts visible.
func NewPoller(api StatusFetcher, interval time.Duration) *Poller {
	p := &Poller{
		api:      api,
		interval: interval,
	}
	p.visible.Store(true)
	return p
}

// SetVisible gates polling on host view visibility.
func (p *Poller) SetVisible(visible bool) {
	p.visible.Store(visible)
}

// Status returns the last polled status.
func (p *Poller) Status() streamapi.StreamingStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if !p.visible.Load() {
		return
	}

	status, err := p.api.StreamingStatus(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("ingest: streaming status poll failed")
		return
	}

	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
	zlog.Debug().Stringer("status", status).Msg("ingest: streaming status refreshed")
}
