package tilestore

import (
	"log"
	"sync"
	"time"
)

// JanitorConfig contains configuration for the tile store janitor.
type JanitorConfig struct {
	ModelVersion  string // tiles of any other version are purged on Start
	RetentionDays int    // days to keep rendered tiles (default 30)
	CleanupPeriod time.Duration
}

// Janitor keeps the tile store bounded: stale model versions are dropped at
// startup and expired tiles are removed periodically.
type Janitor struct {
	cfg      JanitorConfig
	store    *Store
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewJanitor creates a janitor for store.
func NewJanitor(store *Store, cfg JanitorConfig) *Janitor {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	return &Janitor{
		cfg:    cfg,
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start purges other model versions, runs one cleanup and starts the
// cleanup ticker.
func (j *Janitor) Start() {
	if j.cfg.ModelVersion != "" {
		deleted, err := j.store.DeleteOtherVersions(j.cfg.ModelVersion)
		if err != nil {
			log.Printf("[Janitor] failed to purge stale model versions: %v", err)
		} else if deleted > 0 {
			log.Printf("[Janitor] purged %d tiles from other model versions", deleted)
		}
	}
	j.cleanup()

	j.wg.Add(1)
	go j.cleaner()
}

// Stop stops the cleanup ticker and waits for it to exit.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
		j.wg.Wait()
	})
}

func (j *Janitor) cleaner() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *Janitor) cleanup() {
	deleted, err := j.store.DeleteExpired(j.cfg.RetentionDays)
	if err != nil {
		log.Printf("[Janitor] cleanup error: %v", err)
	} else if deleted > 0 {
		log.Printf("[Janitor] cleaned up %d expired tiles", deleted)
	}
}
