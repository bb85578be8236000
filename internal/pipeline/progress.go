package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// ProgressCallback receives progress reports during batch processing.
type ProgressCallback interface {
	OnStart(total int)
	OnProgress(current, total int)
	OnComplete()
}

// LogProgressCallback reports progress as structured log records, at most
// once per interval plus a final record.
type LogProgressCallback struct {
	logger   *slog.Logger
	prefix   string
	interval time.Duration

	mu        sync.Mutex
	start     time.Time
	last      time.Time
	total     int
	processed int
}

// NewLogProgressCallback creates a progress reporter writing to logger.
func NewLogProgressCallback(logger *slog.Logger, prefix string) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, prefix: prefix, interval: time.Second}
}

// WithInterval sets the minimum time between progress records.
func (c *LogProgressCallback) WithInterval(d time.Duration) *LogProgressCallback {
	c.interval = d
	return c
}

func (c *LogProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
	c.last = c.start
	c.total = total
	c.processed = 0
}

func (c *LogProgressCallback) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed = current
	if time.Since(c.last) < c.interval && current < total {
		return
	}
	c.last = time.Now()
	c.logger.Info(c.prefix, "processed", current, "total", total)
}

func (c *LogProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info(c.prefix+" complete", "processed", c.processed, "total", c.total,
		"duration_ms", time.Since(c.start).Milliseconds())
}
