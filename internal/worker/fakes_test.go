package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/message"
	"github.com/ignite/broadcast-engine/internal/pkg/distlock"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/repository/memory"
	"github.com/ignite/broadcast-engine/internal/schedule"
	"github.com/ignite/broadcast-engine/internal/service/sending"
)

type sendCall struct {
	Recipient string
	Media     domain.MediaKind
	Ref       string
	Text      string
	Keyboard  [][]message.Button

	NoPreview bool
}

// fakeSender records calls and fails them from a per-recipient script.
type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	fail  map[string][]error
	seq   int
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: make(map[string][]error)}
}

// failNext queues errors returned by the recipient's next calls, in order.
func (f *fakeSender) failNext(recipient string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[recipient] = append(f.fail[recipient], errs...)
}

func (f *fakeSender) do(c sendCall) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if q := f.fail[c.Recipient]; len(q) > 0 {
		f.fail[c.Recipient] = q[1:]
		if q[0] != nil {
			return "", q[0]
		}
	}
	f.seq++
	return fmt.Sprintf("msg-%d", f.seq), nil
}

func (f *fakeSender) SendText(_ context.Context, recipientID, text string, opts sending.Options) (string, error) {
	return f.do(sendCall{Recipient: recipientID, Media: domain.MediaNone, Text: text, Keyboard: opts.Keyboard, NoPreview: opts.DisableLinkPreview})
}

func (f *fakeSender) SendMedia(_ context.Context, recipientID string, kind domain.MediaKind, ref, caption string, opts sending.Options) (string, error) {
	return f.do(sendCall{Recipient: recipientID, Media: kind, Ref: ref, Text: caption, Keyboard: opts.Keyboard})
}

func (f *fakeSender) callsFor(recipient string) []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sendCall
	for _, c := range f.calls {
		if c.Recipient == recipient {
			out = append(out, c)
		}
	}
	return out
}

type fakeFactory struct {
	sender sending.Sender
	err    error
}

func (f fakeFactory) SenderFor(context.Context, string) (sending.Sender, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sender, nil
}

type harness struct {
	store  *memory.Store
	sender *fakeSender
	disp   *Dispatcher
	pacer  *Pacer
	loop   *Loop
	mr     *miniredis.Miniredis
	redis  *redis.Client
	slept  []time.Duration
}

func newHarness(t *testing.T, queue domain.QueueType) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.Nop()
	h := &harness{store: memory.New(), sender: newFakeSender(), mr: mr, redis: rdb}
	h.disp = NewDispatcher(h.store, h.store, h.store.Contacts(), fakeFactory{sender: h.sender}, nil, log)
	h.pacer = NewPacer(queue, 10, 0, nil, log)
	h.pacer.sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}

	lock := distlock.NewRedisLock(rdb, distlock.QueueLockKey("test", string(queue)), time.Minute)
	h.loop = NewLoop(LoopConfig{
		Queue:       queue,
		BatchSize:   50,
		Concurrency: 10,
		StuckAfter:  30 * time.Minute,
		Backoff: schedule.BackoffPolicy{
			Base:        30 * time.Second,
			Multiplier:  2,
			Max:         time.Hour,
			MaxAttempts: 5,
		},
	}, h.store, h.disp, h.pacer, lock, log)
	return h
}

// dispatchFunc adapts a function to JobDispatcher.
type dispatchFunc func(ctx context.Context, job domain.QueueJob) Result

func (f dispatchFunc) Dispatch(ctx context.Context, job domain.QueueJob) Result { return f(ctx, job) }

func (h *harness) job(t *testing.T, campaignID, recipientID string) domain.QueueJob {
	t.Helper()
	for _, j := range h.store.Jobs(campaignID) {
		if j.RecipientID == recipientID {
			return j
		}
	}
	t.Fatalf("no job for %s/%s", campaignID, recipientID)
	return domain.QueueJob{}
}
