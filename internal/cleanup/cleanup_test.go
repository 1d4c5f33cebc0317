package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	calls atomic.Int64
}

func (f *fakeStore) CleanExpired(nowMs int64) (int, error) {
	f.calls.Add(1)
	return 0, nil
}

type fakeSubs struct {
	calls atomic.Int64
}

func (f *fakeSubs) UnsubscribeExpired(nowMs int64) {
	f.calls.Add(1)
}

func TestSchedulerRunsOnTicker(t *testing.T) {
	st := &fakeStore{}
	subs := &fakeSubs{}
	s, err := New(st, subs, nil, Options{Period: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.Greater(t, st.calls.Load(), int64(0))
	require.Greater(t, subs.calls.Load(), int64(0))
}

func TestSchedulerRejectsInvalidCron(t *testing.T) {
	_, err := New(&fakeStore{}, nil, nil, Options{Cron: "not a cron expression"})
	require.Error(t, err)
}

func TestSchedulerDefaultsPeriod(t *testing.T) {
	s, err := New(&fakeStore{}, nil, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultPeriod, s.opts.Period)
}
