package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"neuron/internal/domain"
)

func TestRunnerRunsImmediatelyAndStops(t *testing.T) {
	var calls atomic.Int32
	r := NewRunner(zap.NewNop())
	r.Register(Job{Name: "tick", Interval: time.Hour, Run: func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}})
	r.Start(context.Background())

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, r.Stop(ctx))
}

func TestRunnerStopTimesOut(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	r := NewRunner(nil)
	r.Register(Job{Name: "stuck", Interval: time.Hour, Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	r.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Stop(ctx), context.DeadlineExceeded)
	assert.Equal(t, []string{"stuck"}, r.Running())
	close(release)
}

func TestRunOnce(t *testing.T) {
	r := NewRunner(nil)
	r.Register(Job{Name: "a", Interval: time.Hour, Run: func(context.Context) error { return errors.New("boom") }})
	assert.EqualError(t, r.RunOnce(context.Background(), "a"), "boom")
	assert.Error(t, r.RunOnce(context.Background(), "missing"))
}

type fakeTaker struct {
	snaps []domain.Snapshot
	err   error
}

func (f fakeTaker) TakeAllSnapshots(context.Context) ([]domain.Snapshot, error) {
	return f.snaps, f.err
}

func TestSnapshotJobReportsPartialFailure(t *testing.T) {
	job := SnapshotJob(fakeTaker{snaps: []domain.Snapshot{{ProgramID: "p1"}}, err: errors.New("p2 failed")}, time.Hour, nil)
	assert.Equal(t, SnapshotJobName, job.Name)
	assert.EqualError(t, job.Run(context.Background()), "p2 failed")

	ok := SnapshotJob(fakeTaker{}, time.Hour, nil)
	assert.NoError(t, ok.Run(context.Background()))
}
