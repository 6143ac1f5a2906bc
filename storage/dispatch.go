package storage

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskly/domain"
)

// reflowSender takes reflow batches off the request path: handoff to a
// buffered channel is near-free, a small worker pool does the queue writes.
// When the buffer is saturated the caller falls back to writing inline.
type reflowSender struct {
	jobs           chan []domain.PositionUpdate
	enqueue        func(ctx context.Context, batch []domain.PositionUpdate) error
	logger         *log.Logger
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	wg             sync.WaitGroup
}

func newReflowSender(enqueue func(ctx context.Context, batch []domain.PositionUpdate) error, logger *log.Logger) *reflowSender {
	workers := envInt("REFLOW_WORKERS", 4)
	buf := envInt("REFLOW_BUFFER", 256)
	s := &reflowSender{
		jobs:           make(chan []domain.PositionUpdate, buf),
		enqueue:        enqueue,
		logger:         logger,
		enqueueTimeout: envDur("REFLOW_ENQUEUE_TIMEOUT", 30*time.Second),
		handoffTimeout: envDur("REFLOW_HANDOFF_TIMEOUT", 10*time.Millisecond),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("reflow sender started, workers: %d, buffer: %d", workers, buf)
	return s
}

func (s *reflowSender) worker(id int) {
	defer s.wg.Done()
	for batch := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), s.enqueueTimeout)
		err := s.enqueue(ctx, batch)
		cancel()
		if err != nil {
			s.logger.Errorf("reflow enqueue failed, err: %v, writes: %d, worker: %d", err, len(batch), id)
		}
	}
}

// trySend hands the batch to a worker. It gives up after a short timeout so
// a full buffer degrades to inline writes instead of blocking the caller.
func (s *reflowSender) trySend(batch []domain.PositionUpdate) bool {
	select {
	case s.jobs <- batch:
		return true
	default:
	}
	if s.handoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(s.handoffTimeout)
	defer timer.Stop()
	select {
	case s.jobs <- batch:
		return true
	case <-timer.C:
		return false
	}
}

// shutdown drains the buffer and stops the workers.
func (s *reflowSender) shutdown() {
	close(s.jobs)
	s.wg.Wait()
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDur(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return def
	}
	return d
}
