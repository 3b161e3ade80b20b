package vectorstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCompactable struct {
	stats       Stats
	compactions int32
}

func (f *fakeCompactable) Stats() Stats { return f.stats }

func (f *fakeCompactable) Compact(ctx context.Context) error {
	atomic.AddInt32(&f.compactions, 1)
	return nil
}

func TestCompactorTriggersAboveThreshold(t *testing.T) {
	fake := &fakeCompactable{stats: Stats{Live: 10, Nodes: 2010, Orphans: 2000}}
	compactor := NewCompactor(fake, CompactorConfig{Schedule: "@every 50ms", OrphanThreshold: 100}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, compactor.Start(ctx))
	defer compactor.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fake.compactions) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestCompactorSkipsBelowThreshold(t *testing.T) {
	fake := &fakeCompactable{stats: Stats{Live: 10, Nodes: 15, Orphans: 5}}
	compactor := NewCompactor(fake, CompactorConfig{Schedule: "@every 20ms", OrphanThreshold: 1000}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, compactor.Start(ctx))
	time.Sleep(100 * time.Millisecond)
	compactor.Stop()

	require.Zero(t, atomic.LoadInt32(&fake.compactions))
}

func TestCompactorStartIsIdempotent(t *testing.T) {
	fake := &fakeCompactable{stats: Stats{}}
	compactor := NewCompactor(fake, CompactorConfig{Schedule: "@every 1h"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, compactor.Start(ctx))
	require.NoError(t, compactor.Start(ctx))
	compactor.Stop()
}

func TestCompactorRejectsInvalidSchedule(t *testing.T) {
	fake := &fakeCompactable{}
	compactor := NewCompactor(fake, CompactorConfig{Schedule: "not a cron expression"}, nil)
	err := compactor.Start(context.Background())
	require.Error(t, err)
}
