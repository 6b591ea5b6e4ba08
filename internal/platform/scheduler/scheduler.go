// Package scheduler runs periodic background tasks with optional leader
// election, so that only one replica executes a task per tick.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Locker grants the right to run a task for one tick.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(), acquired bool, err error)
}

// LocalLocker always grants the lock. Use it for single-process deployments.
type LocalLocker struct{}

func (LocalLocker) TryLock(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

// PostgresLocker elects a leader with a session-level advisory lock held on a
// dedicated connection for the duration of the run.
type PostgresLocker struct {
	db *sql.DB
}

// NewPostgresLocker cria um Locker baseado em pg_try_advisory_lock
func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

func (l *PostgresLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to pin connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", name).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		// a fresh context so a cancelled run still unlocks
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", name)
		conn.Close()
	}
	return release, true, nil
}

// Task is a named unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// PerReplica tasks skip leader election and run on every replica.
	PerReplica bool
}

// Scheduler runs tasks until its context is cancelled.
type Scheduler struct {
	locker Locker
	logger *zap.Logger
	tasks  []Task
	wg     sync.WaitGroup
}

// New creates a scheduler. A nil locker means LocalLocker.
func New(locker Locker, logger *zap.Logger) *Scheduler {
	if locker == nil {
		locker = LocalLocker{}
	}
	return &Scheduler{locker: locker, logger: logger}
}

// Add registers a task. Call before Start.
func (s *Scheduler) Add(task Task) {
	s.tasks = append(s.tasks, task)
}

// Start launches every task on its own ticker.
func (s *Scheduler) Start(ctx context.Context) {
	for _, task := range s.tasks {
		s.wg.Add(1)
		go func(task Task) {
			defer s.wg.Done()
			s.loop(ctx, task)
		}(task)
	}
}

// Wait blocks until every task loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	s.logger.Info("🕒 Scheduled task started", zap.String("task", task.Name), zap.Duration("interval", task.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduled task stopped", zap.String("task", task.Name))
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, task); err != nil {
				s.logger.Error("❌ Scheduled task failed", zap.String("task", task.Name), zap.Error(err))
			}
		}
	}
}

// RunOnce executes task if this replica wins the lock. It reports whether the
// task ran.
func (s *Scheduler) RunOnce(ctx context.Context, task Task) (bool, error) {
	if task.PerReplica {
		return true, task.Run(ctx)
	}

	release, acquired, err := s.locker.TryLock(ctx, task.Name)
	if err != nil {
		return false, err
	}
	if !acquired {
		s.logger.Debug("Skipping task, lock held elsewhere", zap.String("task", task.Name))
		return false, nil
	}
	defer release()

	return true, task.Run(ctx)
}
