package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/amoylab/hostlink/internal/common/errorx"
	"go.uber.org/zap"
)

// Sequencer orders initializations that share a connection id by the
// timestamp the peer attached to them, one at a time.
type Sequencer struct {
	logger  *zap.Logger
	timeout time.Duration
	settle  time.Duration

	mu     sync.Mutex
	queues map[string]*queue
}

type queue struct {
	inFlight bool
	pending  map[int64]int
	changed  chan struct{}
}

func (q *queue) earliest() (int64, bool) {
	var first int64
	found := false
	for ts := range q.pending {
		if !found || ts < first {
			first, found = ts, true
		}
	}
	return first, found
}

func (q *queue) remove(ts int64) {
	if q.pending[ts] <= 1 {
		delete(q.pending, ts)
	} else {
		q.pending[ts]--
	}
}

func (q *queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// New creates a Sequencer. settle is how long a request waits for earlier
// requests that are still on the wire before it may run.
func New(logger *zap.Logger, timeout, settle time.Duration) *Sequencer {
	return &Sequencer{
		logger:  logger.Named("sequencer"),
		timeout: timeout,
		settle:  settle,
		queues:  make(map[string]*queue),
	}
}

// Acquire blocks until the request (connID, ts) may run and returns the
// function that ends it. It fails with errorx.ErrInitializationTimeout when
// that does not happen within the configured timeout.
func (s *Sequencer) Acquire(ctx context.Context, connID string, ts int64) (func(), error) {
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	s.mu.Lock()
	q, ok := s.queues[connID]
	if !ok {
		q = &queue{pending: make(map[int64]int), changed: make(chan struct{})}
		s.queues[connID] = q
	}
	q.pending[ts]++
	s.mu.Unlock()

	if s.settle > 0 {
		select {
		case <-time.After(s.settle):
		case <-deadline.C:
			s.abandon(connID, q, ts)
			return nil, errorx.New(errorx.ErrInitializationTimeout, "connection %s", connID)
		case <-ctx.Done():
			s.abandon(connID, q, ts)
			return nil, ctx.Err()
		}
	}

	for {
		s.mu.Lock()
		if first, _ := q.earliest(); !q.inFlight && first == ts {
			q.remove(ts)
			q.inFlight = true
			s.mu.Unlock()
			return s.releaser(connID, q), nil
		}
		wait := q.changed
		s.mu.Unlock()

		select {
		case <-wait:
		case <-deadline.C:
			s.abandon(connID, q, ts)
			s.logger.Warn("initialization timed out waiting for its turn",
				zap.String("connectionId", connID), zap.Int64("timestamp", ts))
			return nil, errorx.New(errorx.ErrInitializationTimeout, "connection %s", connID)
		case <-ctx.Done():
			s.abandon(connID, q, ts)
			return nil, ctx.Err()
		}
	}
}

func (s *Sequencer) releaser(connID string, q *queue) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			q.inFlight = false
			q.broadcast()
			s.gc(connID, q)
		})
	}
}

func (s *Sequencer) abandon(connID string, q *queue, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.remove(ts)
	q.broadcast()
	s.gc(connID, q)
}

func (s *Sequencer) gc(connID string, q *queue) {
	if !q.inFlight && len(q.pending) == 0 && s.queues[connID] == q {
		delete(s.queues, connID)
	}
}

// Pending reports how many requests for connID are queued or running
func (s *Sequencer) Pending(connID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[connID]
	if !ok {
		return 0
	}
	n := 0
	for _, c := range q.pending {
		n += c
	}
	if q.inFlight {
		n++
	}
	return n
}
