package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Failure is one background task that returned an error or panicked
type Failure struct {
	Name string
	Err  error
	At   time.Time
}

type result struct {
	name  string
	err   error
	since time.Time
}

// Supervisor runs fire-and-forget tasks. Every task reports its outcome on a
// channel drained by one loop, which logs failures and keeps the recent ones.
type Supervisor struct {
	logger    *zap.Logger
	timeout   time.Duration
	onFailure func(name string, err error)

	ctx     context.Context
	cancel  context.CancelFunc
	results chan result
	loopEnd chan struct{}
	tasks   sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	failures []Failure
}

const keepFailures = 100

type Option func(*Supervisor)

// WithTaskTimeout bounds every task's context
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.timeout = d }
}

// WithFailureHook is called from the result loop for every failed task
func WithFailureHook(fn func(name string, err error)) Option {
	return func(s *Supervisor) { s.onFailure = fn }
}

func New(logger *zap.Logger, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		logger:  logger.Named("supervisor"),
		timeout: 30 * time.Second,
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan result, 256),
		loopEnd: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Go runs fn in the background. Tasks submitted after Stop are dropped.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Debug("supervisor stopped, dropping task", zap.String("task", name))
		return
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	go func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		err := run(ctx, fn)
		s.results <- result{name: name, err: err, since: start}
	}()
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) loop() {
	defer close(s.loopEnd)
	for r := range s.results {
		if r.err != nil {
			s.logger.Warn("background task failed",
				zap.String("task", r.name),
				zap.Duration("elapsed", time.Since(r.since)),
				zap.Error(r.err))
			s.mu.Lock()
			s.failures = append(s.failures, Failure{Name: r.name, Err: r.err, At: time.Now()})
			if len(s.failures) > keepFailures {
				s.failures = s.failures[len(s.failures)-keepFailures:]
			}
			s.mu.Unlock()
			if s.onFailure != nil {
				s.onFailure(r.name, r.err)
			}
		}
		s.tasks.Done()
	}
}

// Wait blocks until every submitted task finished and its result was handled
func (s *Supervisor) Wait() {
	s.tasks.Wait()
}

// Failures returns the most recent failures, oldest first
func (s *Supervisor) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure(nil), s.failures...)
}

// Stop cancels running tasks and waits for them
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.tasks.Wait()
	close(s.results)
	<-s.loopEnd
}
