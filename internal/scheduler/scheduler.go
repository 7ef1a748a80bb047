package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/orchestrator"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/amoylab/hostlink/pkg/metrics"
	"github.com/amoylab/hostlink/pkg/trace"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// fireTimeout bounds one scheduled run from resolution to START_TRANSACTION
const fireTimeout = 2 * time.Minute

// Scheduler owns one cron entry per live Action Schedule, keyed by schedule id
type Scheduler struct {
	logger  *zap.Logger
	store   storage.Store
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	tracer  *trace.Builder
	cron    *cron.Cron

	mu    sync.Mutex
	tasks map[string]cron.EntryID
}

func New(logger *zap.Logger, store storage.Store, orch *orchestrator.Orchestrator, m *metrics.Metrics) *Scheduler {
	logger = logger.Named("scheduler")
	cl := cronLogger{sugar: logger.Sugar()}
	return &Scheduler{
		logger:  logger,
		store:   store,
		orch:    orch,
		metrics: m,
		tracer:  trace.Tracer(cnst.TraceScheduler),
		cron:    cron.New(cron.WithParser(parser), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		tasks:   make(map[string]cron.EntryID),
	}
}

// Start runs the cron engine; entries may be added before or after
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the engine and waits for running fires up to ctx
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduled runs still in flight at shutdown")
	}
}

// ScheduleAllExisting registers every non-deleted schedule. Rows with an
// invalid expression are logged and skipped.
func (s *Scheduler) ScheduleAllExisting(ctx context.Context) error {
	list, err := s.store.ListSchedules(ctx)
	if err != nil {
		return err
	}
	for _, sched := range list {
		if err := s.Schedule(sched); err != nil {
			s.logger.Warn("skipping schedule", zap.String("schedule", sched.ID), zap.Error(err))
		}
	}
	s.logger.Info("schedules loaded", zap.Int("count", len(s.TaskIDs())))
	return nil
}

// RescheduleAll drops every entry and loads the schedules again
func (s *Scheduler) RescheduleAll(ctx context.Context) error {
	s.mu.Lock()
	for id, entry := range s.tasks {
		s.cron.Remove(entry)
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	return s.ScheduleAllExisting(ctx)
}

// Schedule registers or replaces the entry of one schedule
func (s *Scheduler) Schedule(sched *storage.ActionSchedule) error {
	expr, err := InputOf(sched).Expression()
	if err != nil {
		return err
	}
	id := sched.ID
	entry, err := s.cron.AddFunc(expr, func() { s.fire(id) })
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tasks[id]; ok {
		s.cron.Remove(prev)
	}
	s.tasks[id] = entry
	return nil
}

// Unschedule removes the entry of one schedule if present
func (s *Scheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tasks[id]; ok {
		s.cron.Remove(entry)
		delete(s.tasks, id)
	}
}

// TaskIDs lists the schedule ids with a live entry
func (s *Scheduler) TaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Next reports when a schedule fires next
func (s *Scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	entry, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(entry)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Schedule.Next(time.Now()), true
}

// fire runs one schedule and records the outcome. It never panics.
func (s *Scheduler) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()
	if _, err := s.Run(ctx, id); err != nil {
		s.logger.Warn("scheduled run failed", zap.String("schedule", id), zap.Error(err))
	}
}

// Run fires a schedule now and records a run row for it
func (s *Scheduler) Run(ctx context.Context, id string) (run *storage.ActionScheduleRun, err error) {
	scope := s.tracer.Start(ctx, cnst.SpanScheduleFire).
		WithAttrs(attribute.String(cnst.AttrScheduleID, id))
	defer scope.End()
	ctx = scope.Ctx

	var txID string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
		scope.Fail(err)
		run = &storage.ActionScheduleRun{
			ActionScheduleID: id,
			Status:           cnst.ScheduleRunSuccess,
			TransactionID:    txID,
		}
		if err != nil {
			run.Status = cnst.ScheduleRunFailure
			run.Details = err.Error()
		}
		s.metrics.ScheduleRun(string(run.Status))
		if rerr := s.store.CreateScheduleRun(context.WithoutCancel(ctx), run); rerr != nil {
			s.logger.Error("failed to record schedule run", zap.String("schedule", id), zap.Error(rerr))
		}
	}()

	txID, err = s.start(ctx, id)
	return run, err
}

func (s *Scheduler) start(ctx context.Context, id string) (string, error) {
	sched, err := s.store.Schedule(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load schedule: %w", err)
	}
	action, err := s.store.Action(ctx, sched.ActionID)
	if err != nil {
		return "", fmt.Errorf("load action: %w", err)
	}
	runner := sched.RunnerID
	if runner == "" {
		org, err := s.store.Organization(ctx, action.OrganizationID)
		if err != nil {
			return "", fmt.Errorf("load organization: %w", err)
		}
		runner = org.OwnerID
	}
	if runner == "" {
		return "", errors.New("schedule has no runner")
	}

	tx, err := s.orch.CreateTransaction(ctx, orchestrator.CreateInput{
		ActionID:   action.ID,
		OwnerID:    runner,
		ScheduleID: sched.ID,
		Status:     cnst.TransactionRunning,
	})
	if err != nil {
		return "", fmt.Errorf("create transaction: %w", err)
	}
	if err := s.orch.Start(ctx, tx.ID, orchestrator.StartInput{RunnerID: runner}); err != nil {
		if ferr := s.orch.Fail(ctx, tx.ID); ferr != nil {
			s.logger.Error("failed to fail unstarted transaction", zap.String("transaction", tx.ID), zap.Error(ferr))
		}
		return tx.ID, fmt.Errorf("start transaction: %w", err)
	}
	s.logger.Info("scheduled run started",
		zap.String("schedule", sched.ID),
		zap.String("action", action.Slug),
		zap.String("transaction", tx.ID))
	return tx.ID, nil
}
