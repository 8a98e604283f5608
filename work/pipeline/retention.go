package pipeline

import (
	"os"
	"time"

	"ytgrab-proxy/work/logger"
	"ytgrab-proxy/work/metrics"

	"github.com/maypok86/otter/v2"
)

// Janitor owns deferred deletion of delivered artifacts. A merged file must
// outlive its HTTP response long enough for slow clients to finish reading,
// so deletion is scheduled on a TTL cache rather than performed inline. The
// schedule is cancellable: removing an artifact early just invalidates its
// entry.
type Janitor struct {
	files *otter.Cache[string, string]
	stop  chan struct{}
}

// NewJanitor creates a janitor deleting scheduled files once retention has
// elapsed. sweepInterval bounds how stale an expired entry can get before
// its file actually disappears from disk.
func NewJanitor(retention, sweepInterval time.Duration) *Janitor {
	j := &Janitor{
		stop: make(chan struct{}),
	}

	j.files = otter.Must(&otter.Options[string, string]{
		MaximumSize:      10_000,
		ExpiryCalculator: otter.ExpiryCreating[string, string](retention),
		OnDeletion: func(e otter.DeletionEvent[string, string]) {
			if err := os.Remove(e.Value); err != nil && !os.IsNotExist(err) {
				logger.Warn("{retention - OnDeletion} failed to remove %s: %v", e.Value, err)
			} else {
				logger.Debug("{retention - OnDeletion} removed %s", e.Value)
			}
			metrics.ArtifactsRetained.Dec()
		},
	})

	go j.sweep(sweepInterval)
	return j
}

// Schedule marks a file for deletion after the retention window.
func (j *Janitor) Schedule(path string) {
	j.files.Set(path, path)
	metrics.ArtifactsRetained.Inc()
	logger.Debug("{retention - Schedule} %s scheduled for cleanup", path)
}

// Remove deletes a scheduled file immediately and cancels its timer. Safe
// to call for paths that were never scheduled.
func (j *Janitor) Remove(path string) {
	j.files.Invalidate(path)
	// the deletion listener may run asynchronously; remove inline so the
	// file is gone when this returns
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("{retention - Remove} failed to remove %s: %v", path, err)
	}
}

// Close stops the sweep loop. Files still scheduled are not deleted; the
// temp directory is wiped on the next startup.
func (j *Janitor) Close() {
	close(j.stop)
}

func (j *Janitor) sweep(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.files.CleanUp()
		case <-j.stop:
			return
		}
	}
}
