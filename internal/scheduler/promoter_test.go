package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

type fakeRunner struct {
	calls atomic.Int32
	last  atomic.Value
	err   error
}

func (f *fakeRunner) RunDueSchedules(_ context.Context, now time.Time) (broadcast.PromoteResult, error) {
	f.calls.Add(1)
	f.last.Store(now)
	return broadcast.PromoteResult{Promoted: 1}, f.err
}

func TestPromoter_RunOnceUsesClock(t *testing.T) {
	r := &fakeRunner{}
	p := NewPromoter(r, "@every 1m", logger.Nop())
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.RunOnce(context.Background())
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, fixed, r.last.Load())
}

func TestPromoter_RunOnceSurvivesError(t *testing.T) {
	r := &fakeRunner{err: errors.New("db down")}
	p := NewPromoter(r, "@every 1m", logger.Nop())
	p.RunOnce(context.Background())
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestPromoter_InvalidSpec(t *testing.T) {
	p := NewPromoter(&fakeRunner{}, "not a spec", logger.Nop())
	assert.Error(t, p.Start(context.Background()))
	p.Stop()
}

func TestPromoter_Fires(t *testing.T) {
	r := &fakeRunner{}
	p := NewPromoter(r, "@every 1s", logger.Nop())
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
