package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Compactable is implemented by stores that accumulate orphaned entries under
// lazy deletion and need periodic compaction. Only LocalHNSW does today;
// RemoteCollection deletes eagerly through Qdrant.
type Compactable interface {
	Stats() Stats
	Compact(ctx context.Context) error
}

// CompactorConfig configures the background compaction schedule.
type CompactorConfig struct {
	// Schedule is a robfig/cron v1 expression: six fields with a leading
	// seconds field (day-of-week optional), or a descriptor such as "@every 5m".
	// Default: "@every 5m".
	Schedule string

	// OrphanThreshold is the minimum orphan count that triggers a compaction
	// pass when the schedule fires. Default: 1000.
	OrphanThreshold int
}

func (c *CompactorConfig) applyDefaults() {
	if c.Schedule == "" {
		c.Schedule = "@every 5m"
	}
	if c.OrphanThreshold <= 0 {
		c.OrphanThreshold = 1000
	}
}

// Compactor runs a cron-scheduled compaction pass against a LocalHNSW store,
// skipping passes whose orphan count hasn't crossed OrphanThreshold.
//
// TODO: deletion propagation from the upstream source (a row disappearing
// from bitmagnet) is not detected anywhere in the sync pipeline; this
// compactor only reclaims orphans already recorded via Delete. Wiring actual
// upstream-delete detection into a future scheduled pass is still open.
type Compactor struct {
	store  Compactable
	config CompactorConfig
	logger *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewCompactor creates a cron-scheduled compactor for store.
func NewCompactor(store Compactable, config CompactorConfig, logger *zap.Logger) *Compactor {
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{store: store, config: config, logger: logger}
}

// Start schedules the compaction pass. Returns an error if the schedule
// expression is invalid.
func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	sched := cron.New()
	if err := sched.AddFunc(c.config.Schedule, func() { c.maybeCompact(ctx) }); err != nil {
		return fmt.Errorf("invalid compaction schedule %q: %w", c.config.Schedule, err)
	}
	sched.Start()

	c.cron = sched
	c.running = true
	c.logger.Info("started vector store compactor", zap.String("schedule", c.config.Schedule))
	return nil
}

// Stop halts the schedule. Safe to call even if Start was never called.
func (c *Compactor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.cron.Stop()
	c.running = false
}

func (c *Compactor) maybeCompact(ctx context.Context) {
	stats := c.store.Stats()
	if stats.Orphans < c.config.OrphanThreshold {
		return
	}

	started := time.Now()
	c.logger.Info("compacting vector store",
		zap.Int("live", stats.Live), zap.Int("nodes", stats.Nodes), zap.Int("orphans", stats.Orphans))

	if err := c.store.Compact(ctx); err != nil {
		c.logger.Error("vector store compaction failed", zap.Error(err))
		return
	}

	c.logger.Info("vector store compaction completed", zap.Duration("duration", time.Since(started)))
}
