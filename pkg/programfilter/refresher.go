package programfilter

import (
	"context"
	"time"

	"github.com/blockdaemon/programfilter/pkg/programfilter/allowlist"
	"github.com/blockdaemon/programfilter/pkg/programfilter/metrics"
)

// Refresher periodically asks an allowlist to refresh itself. The refresh
// runs in its own goroutine so a slow url never delays the next tick.
type Refresher struct {
	allowlist *allowlist.Allowlist
	interval  time.Duration
	metrics   metrics.MetricsClientInterface
}

func NewRefresher(a *allowlist.Allowlist, interval time.Duration, mc metrics.MetricsClientInterface) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshCheckInterval
	}
	if mc == nil {
		mc = metrics.NewNoOpMetricsClient()
	}
	return &Refresher{
		allowlist: a,
		interval:  interval,
		metrics:   mc,
	}
}

// Run ticks until ctx is done. It always returns nil.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Refresher) tick() {
	r.metrics.Gauge("allowlist.size", float64(r.allowlist.Len()), 1)
	r.allowlist.RefreshIfDue()
}
