package store

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Flusher periodically saves every loaded partition in the background.
type Flusher struct {
	repo     *Repository
	interval time.Duration
	log      logrus.FieldLogger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewFlusher creates a flusher that saves at the given interval.
func NewFlusher(repo *Repository, interval time.Duration) *Flusher {
	return &Flusher{
		repo:     repo,
		interval: interval,
		log:      repo.log.WithField("component", "flusher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background goroutine. A non-positive interval only
// saves on Stop.
func (f *Flusher) Start() {
	go func() {
		defer close(f.doneCh)
		if f.interval <= 0 {
			<-f.stopCh
			return
		}
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-f.stopCh:
				return
			case <-ticker.C:
				if err := f.repo.SaveAll(); err != nil {
					f.log.WithError(err).Error("flush failed")
				}
			}
		}
	}()
}

// Stop signals the flusher to stop, waits for it, then saves one last time.
func (f *Flusher) Stop() error {
	close(f.stopCh)
	<-f.doneCh
	return f.repo.SaveAll()
}
