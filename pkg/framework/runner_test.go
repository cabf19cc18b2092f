package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeService struct {
	started, stopped bool
	startErr         error
	stopErr          error
}

func (s *fakeService) Start() error {
	s.started = true
	return s.startErr
}

func (s *fakeService) Stop() error {
	s.stopped = true
	return s.stopErr
}

func TestRunnerStopsOthersOnFailure(t *testing.T) {
	boom := errors.New("boom")
	r := NewRunner()
	var waited bool
	r.Go(
		NamedRun("waiter", RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			waited = true
			return ctx.Err()
		})),
		RunFunc(func(context.Context) error { return boom }),
	)
	err := r.Wait()
	require.ErrorIs(t, err, boom)
	require.Equal(t, "boom", err.Error())
	require.True(t, waited)
}

func TestRunnerStop(t *testing.T) {
	r := NewRunner()
	svc := &fakeService{}
	r.Go(ServiceRun("svc", svc))
	time.AfterFunc(10*time.Millisecond, r.Stop)
	require.NoError(t, r.Wait())
	require.True(t, svc.started)
	require.True(t, svc.stopped)
}

func TestRunService(t *testing.T) {
	boom := errors.New("boom")
	testCases := []struct {
		name    string
		svc     *fakeService
		err     error
		stopped bool
	}{
		{"clean", &fakeService{}, context.Canceled, true},
		{"start fails", &fakeService{startErr: boom}, boom, false},
		{"stop fails", &fakeService{stopErr: boom}, boom, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			require.ErrorIs(t, RunService(ctx, tc.svc), tc.err)
			require.Equal(t, tc.stopped, tc.svc.stopped)
		})
	}
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Aggregate())
	a, b := errors.New("a"), errors.New("b")
	errs.Add(nil, a, b)
	err := errs.Aggregate()
	require.ErrorIs(t, err, b)
	require.Equal(t, "multiple errors:\na\nb", err.Error())
}
