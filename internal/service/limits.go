package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LimitResetter applies calendar resets to every stored limit
type LimitResetter interface {
	CheckAndResetLimits(ctx context.Context) (int, error)
}

// LimitResetRunner periodically applies due quota resets. Resets are also
// applied lazily on every check; the runner keeps idle tenants' counters
// and dashboards current.
type LimitResetRunner struct {
	ledger       LimitResetter
	pollInterval time.Duration
	log          logrus.FieldLogger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLimitResetRunner creates a new runner
func NewLimitResetRunner(ledger LimitResetter, pollInterval time.Duration, log logrus.FieldLogger) *LimitResetRunner {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &LimitResetRunner{
		ledger:       ledger,
		pollInterval: pollInterval,
		log:          log,
	}
}

// Start starts the runner
func (r *LimitResetRunner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.loop(r.stopCh)
	r.log.WithField("interval", r.pollInterval).Info("limit reset runner started")
}

// Stop stops the runner and waits for the current pass
func (r *LimitResetRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("limit reset runner stopped")
}

func (r *LimitResetRunner) loop(stopCh <-chan struct{}) {
	defer r.wg.Done()

	// Initial run
	r.runOnce()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runOnce()
		case <-stopCh:
			return
		}
	}
}

func (r *LimitResetRunner) runOnce() {
	n, err := r.ledger.CheckAndResetLimits(context.Background())
	if err != nil {
		r.log.WithError(err).Warn("check and reset limits")
		return
	}
	if n > 0 {
		r.log.WithField("count", n).Info("limits reset")
	}
}
