package metrics

import (
	"context"
	"time"

	"github.com/migadu/ftrd/logger"
)

// HistoryStats holds aggregate statistics returned by the history store
type HistoryStats struct {
	Transfers  int64
	TotalBytes int64
}

// StatsProvider is an interface for retrieving history statistics
type StatsProvider interface {
	HistoryStats(ctx context.Context) (*HistoryStats, error)
}

// collectTimeout bounds a single statistics query.
const collectTimeout = 10 * time.Second

// Collector periodically refreshes the history-backed gauges
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Collector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Debug("MetricsCollector started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("MetricsCollector stopping due to context cancellation")
			return
		case <-c.stopCh:
			logger.Debug("MetricsCollector stopping due to stop signal")
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// Stop signals the collector to stop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, collectTimeout)
	defer cancel()

	stats, err := c.provider.HistoryStats(ctx)
	if err != nil {
		logger.Error("MetricsCollector: error collecting history metrics", "error", err)
		return
	}

	HistoryTransfersStored.Set(float64(stats.Transfers))
	HistoryBytesStored.Set(float64(stats.TotalBytes))

	logger.Debug("MetricsCollector: updated history metrics", "transfers", stats.Transfers, "bytes", stats.TotalBytes)
}
