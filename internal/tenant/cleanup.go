package tenant

import (
	"context"
	"time"

	"github.com/flexrz/auth-broker/internal/log"
)

// Sweeper drops expired entries from a cache.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CleanupManager periodically sweeps a memory cache so hosts that are never
// asked for again do not accumulate.
type CleanupManager struct {
	sweeper  Sweeper
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sweeper Sweeper, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweeper:  sweeper,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogDebugWithFields("tenant", "Starting resolver cache cleanup", map[string]any{
		"interval": cm.interval.String(),
	})
	go cm.run(ctx)
}

// Stop stops the loop and waits for it to finish.
func (cm *CleanupManager) Stop() {
	close(cm.stopChan)
	<-cm.doneChan
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.sweeper.Sweep(ctx)
	if err != nil {
		log.LogErrorWithFields("tenant", "Failed to sweep resolver cache", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if count > 0 {
		log.LogTraceWithFields("tenant", "Swept resolver cache", map[string]any{
			"removed": count,
		})
	}
}
