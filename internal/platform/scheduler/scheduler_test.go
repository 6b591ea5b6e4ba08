package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	args := m.Called(ctx, name)
	var release func()
	if fn := args.Get(0); fn != nil {
		release = fn.(func())
	}
	return release, args.Bool(1), args.Error(2)
}

func TestRunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	// Arrange
	locker := new(MockLocker)
	ctx := context.Background()
	locker.On("TryLock", ctx, "sweep").Return(nil, false, nil)
	s := New(locker, zap.NewNop())

	ran := false
	task := Task{Name: "sweep", Interval: time.Minute, Run: func(context.Context) error {
		ran = true
		return nil
	}}

	// Act
	executed, err := s.RunOnce(ctx, task)

	// Assert
	require.NoError(t, err)
	assert.False(t, executed)
	assert.False(t, ran)
	locker.AssertExpectations(t)
}

func TestRunOnceReleasesLockAfterRun(t *testing.T) {
	locker := new(MockLocker)
	ctx := context.Background()
	released := false
	locker.On("TryLock", ctx, "sweep").Return(func() { released = true }, true, nil)
	s := New(locker, zap.NewNop())

	boom := errors.New("boom")
	executed, err := s.RunOnce(ctx, Task{Name: "sweep", Run: func(context.Context) error { return boom }})

	assert.True(t, executed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, released)
}

func TestStartRunsTasksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(nil, zap.NewNop())

	var runs atomic.Int32
	s.Add(Task{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	s.Start(ctx)
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	s.Wait()
}

func TestRunOncePerReplicaSkipsLocker(t *testing.T) {
	// Arrange
	locker := new(MockLocker)
	s := New(locker, zap.NewNop())
	ran := false

	// Act
	executed, err := s.RunOnce(context.Background(), Task{Name: "cache-purge", PerReplica: true, Run: func(context.Context) error {
		ran = true
		return nil
	}})

	// Assert
	require.NoError(t, err)
	assert.True(t, executed)
	assert.True(t, ran)
	locker.AssertNotCalled(t, "TryLock", mock.Anything, mock.Anything)
}
