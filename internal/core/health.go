package core

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coregx/relicorm/internal/logger"
)

// healthChecker pings the database at a fixed interval so dead connections
// are noticed before a query fails.
type healthChecker struct {
	db       *sqlx.DB
	logger   logger.Logger
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup

	mu       sync.RWMutex
	lastErr  error
	lastPing time.Time
}

func newHealthChecker(db *sqlx.DB, interval time.Duration) *healthChecker {
	return &healthChecker{
		db:       db,
		logger:   logger.NoopLogger{},
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (h *healthChecker) start() {
	h.wg.Add(1)
	go h.run()
}

func (h *healthChecker) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.ping()
		case <-h.stop:
			return
		}
	}
}

func (h *healthChecker) ping() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.db.PingContext(ctx)

	h.mu.Lock()
	h.lastErr = err
	h.lastPing = time.Now()
	h.mu.Unlock()

	if err != nil {
		h.logger.Warn("database health check failed", "error", err, "interval", h.interval)
	} else {
		h.logger.Debug("database health check passed", "interval", h.interval)
	}
}

func (h *healthChecker) shutdown() {
	close(h.stop)
	h.wg.Wait()
}

func (h *healthChecker) isHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr == nil
}

func (h *healthChecker) lastCheck() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastPing
}
