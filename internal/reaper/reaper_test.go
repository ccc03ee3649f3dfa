package reaper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/nearhub/internal/config"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/metrics"
)

type mockTransitions struct{ mock.Mock }

func (m *mockTransitions) DueForExpiry(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(limit)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockTransitions) ExpirePending(ctx context.Context, id string) (bool, error) {
	args := m.Called(id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransitions) DueForRelease(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(limit)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockTransitions) ReleaseOverdue(ctx context.Context, id string) (bool, error) {
	args := m.Called(id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransitions) DueForRefund(ctx context.Context, limit int, grace time.Duration) ([]string, error) {
	args := m.Called(limit, grace)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockTransitions) RefundExpired(ctx context.Context, id string) (bool, error) {
	args := m.Called(id)
	return args.Bool(0), args.Error(1)
}

var testCfg = config.Reaper{
	ExpireInterval:  time.Minute,
	ReleaseInterval: 30 * time.Second,
	RefundInterval:  5 * time.Minute,
	BatchSize:       50,
}

func TestPassIsolatesFailingItems(t *testing.T) {
	m := &mockTransitions{}
	m.On("DueForExpiry", 50).Return([]string{"a", "b", "c"}, nil)
	m.On("ExpirePending", "a").Return(true, nil)
	m.On("ExpirePending", "b").Return(false, errors.New("deadlock detected"))
	m.On("ExpirePending", "c").Return(false, nil)

	errors0 := testutil.ToFloat64(metrics.ReaperItemsTotal.WithLabelValues(SweepExpire, "error"))

	r := New(m, testCfg).WithLogger(logger.Discard())
	res, ok := r.RunOnce(context.Background(), SweepExpire)
	require.True(t, ok)
	assert.Equal(t, Result{Due: 3, Changed: 1, Failed: 1}, res)
	assert.Equal(t, errors0+1, testutil.ToFloat64(metrics.ReaperItemsTotal.WithLabelValues(SweepExpire, "error")))
	m.AssertExpectations(t)
}

func TestPassRecoversFromPanic(t *testing.T) {
	r := &Reaper{log: logger.Discard()}
	res := r.Pass(context.Background(), Sweep{
		Name: "test",
		List: func(context.Context) ([]string, error) { return []string{"x", "y"}, nil },
		Apply: func(_ context.Context, id string) (bool, error) {
			if id == "x" {
				panic("nil wallet")
			}
			return true, nil
		},
	})
	assert.Equal(t, Result{Due: 2, Changed: 1, Failed: 1}, res)
}

func TestPassListFailure(t *testing.T) {
	m := &mockTransitions{}
	m.On("DueForRelease", 50).Return(nil, errors.New("connection refused"))

	r := New(m, testCfg).WithLogger(logger.Discard())
	res, ok := r.RunOnce(context.Background(), SweepRelease)
	require.True(t, ok)
	assert.Equal(t, Result{}, res)
	m.AssertNotCalled(t, "ReleaseOverdue", mock.Anything)
}

func TestRefundSweepUsesExpireIntervalAsGrace(t *testing.T) {
	m := &mockTransitions{}
	m.On("DueForRefund", 50, time.Minute).Return([]string{"r1"}, nil).Once()
	m.On("RefundExpired", "r1").Return(true, nil).Once()

	r := New(m, testCfg).WithLogger(logger.Discard())
	res, ok := r.RunOnce(context.Background(), SweepRefund)
	require.True(t, ok)
	assert.Equal(t, 1, res.Changed)
	m.AssertExpectations(t)
}

func TestRunOnceUnknownSweep(t *testing.T) {
	r := New(&mockTransitions{}, testCfg).WithLogger(logger.Discard())
	_, ok := r.RunOnce(context.Background(), "compact")
	assert.False(t, ok)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	var passes atomic.Int32
	r := &Reaper{log: logger.Discard(), sweeps: []Sweep{{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		List: func(context.Context) ([]string, error) {
			passes.Add(1)
			return nil, nil
		},
		Apply: func(context.Context, string) (bool, error) { return false, nil },
	}, {
		Name:     "disabled",
		Interval: 0,
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return passes.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
