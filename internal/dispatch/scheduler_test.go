package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chatblast/internal/contacts"
	"chatblast/internal/eventbus"
	"chatblast/internal/ledger"
	"chatblast/internal/messaging"
	"chatblast/internal/messaging/messagingtest"
	"chatblast/internal/session"
	logx "chatblast/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	contact contacts.Contact
	outcome ledger.Outcome
	worker  int
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []recorded
	enqueued []contacts.Contact
}

func (r *fakeRecorder) RecordOutcome(ctx context.Context, c contacts.Contact, o ledger.Outcome, worker int, sendErr error) error {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, recorded{contact: c, outcome: o, worker: worker})
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) Enqueue(updated []contacts.Contact) <-chan error {
	r.mu.Lock()
	r.enqueued = append(r.enqueued, updated...)
	r.mu.Unlock()
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waits)
}

func makeContacts(n int) []*contacts.Contact {
	out := make([]*contacts.Contact, n)
	for i := range out {
		out[i] = &contacts.Contact{
			FirstName:       fmt.Sprintf("C%03d", i),
			Phone:           fmt.Sprintf("98765%05d", i),
			NormalizedPhone: fmt.Sprintf("9198765%05d", i),
			Status:          contacts.StatusNotSent,
		}
	}
	return out
}

type harness struct {
	fake    *messagingtest.Client
	pool    *session.Pool
	workers []*session.Worker
	rec     *fakeRecorder
	sleeps  *sleepLog
	bus     *eventbus.MemBus
	sched   *Scheduler
}

func newHarness(t *testing.T, fake *messagingtest.Client, workers int, cfg Config) *harness {
	t.Helper()
	h := &harness{fake: fake, rec: &fakeRecorder{}, sleeps: &sleepLog{}, bus: eventbus.New()}
	h.pool = session.NewPool(fake, session.Config{}, logx.Nop())
	ws, err := h.pool.Init(context.Background(), workers)
	require.NoError(t, err)
	h.workers = ws
	h.sched, err = New(cfg, h.rec, h.pool, WithBus(h.bus), WithSleep(h.sleeps.sleep))
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, list []*contacts.Contact, size int) (Summary, error) {
	t.Helper()
	batches, err := contacts.Split(list, size)
	require.NoError(t, err)
	return h.sched.Run(ctx, h.workers, batches, messaging.TextMessage("hello"))
}

func TestSingleWorkerRestartsBetweenBatchesOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &messagingtest.Client{}, 1, Config{Delay: 2 * time.Second})
	events, unsub := h.bus.Subscribe(512)
	defer unsub()

	sum, err := h.run(t, context.Background(), makeContacts(45), 20)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Batches)
	assert.Equal(t, 45, sum.Sent)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 2, sum.Restarts)
	require.Len(t, sum.Workers, 1)
	assert.Equal(t, []int{1, 2, 3}, sum.Workers[0].Batches)

	assert.Equal(t, 3, h.fake.Pairs("client-1"))
	assert.Equal(t, 2, h.fake.Destroys("client-1"))
	assert.Equal(t, 2, h.workers[0].Restarts())
	assert.Equal(t, session.StateDraining, h.workers[0].State())

	// Session 1 sent batch 1, session 2 batch 2, session 3 batch 3.
	perSession := map[int]int{}
	for _, s := range h.fake.Sends() {
		perSession[s.Session]++
		assert.True(t, strings.HasSuffix(s.Target, "@c.us"), s.Target)
	}
	assert.Equal(t, map[int]int{1: 20, 2: 20, 3: 5}, perSession)

	assert.Equal(t, 45, h.sleeps.count())
	for _, d := range h.sleeps.waits {
		assert.Equal(t, 2*time.Second, d)
	}

	var sizes []int
	restarts, done := 0, 0
	for len(events) > 0 {
		e := <-events
		switch e.Type {
		case EventBatchAssigned:
			sizes = append(sizes, e.Data.(BatchAssigned).Size)
		case EventWorkerRestarted:
			restarts++
			assert.True(t, e.Data.(WorkerRestarted).OK)
		case EventDone:
			done++
		}
	}
	assert.Equal(t, []int{20, 20, 5}, sizes)
	assert.Equal(t, 2, restarts)
	assert.Equal(t, 1, done)
}

func TestFailedSendAdvancesAfterDelay(t *testing.T) {
	t.Parallel()
	list := makeContacts(5)
	bad := list[2].NormalizedPhone + "@c.us"
	fake := &messagingtest.Client{SendFunc: func(ctx context.Context, identity, target string) error {
		if target == bad {
			return errors.New("not on the network")
		}
		return nil
	}}
	h := newHarness(t, fake, 1, Config{Delay: 500 * time.Millisecond})

	sum, err := h.run(t, context.Background(), list, 20)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Sent)
	assert.Equal(t, 1, sum.Failed)

	sends := fake.Sends()
	require.Len(t, sends, 5)
	for i, s := range sends {
		assert.Equal(t, list[i].NormalizedPhone+"@c.us", s.Target)
	}
	assert.Equal(t, 5, h.sleeps.count())
	assert.Equal(t, 500*time.Millisecond, h.sleeps.waits[2])

	assert.Equal(t, contacts.StatusFailed, list[2].Status)
	assert.Equal(t, contacts.StatusSent, list[3].Status)
	require.Len(t, h.rec.outcomes, 5)
	assert.Equal(t, ledger.OutcomeFailed, h.rec.outcomes[2].outcome)
	assert.Len(t, h.rec.enqueued, 5)
}

func TestLeaveRetryablePolicy(t *testing.T) {
	t.Parallel()
	list := makeContacts(3)
	fake := &messagingtest.Client{SendFunc: func(ctx context.Context, identity, target string) error {
		if target == list[1].NormalizedPhone+"@c.us" {
			return errors.New("rate limited")
		}
		return nil
	}}
	h := newHarness(t, fake, 1, Config{FailurePolicy: PolicyLeaveRetryable})

	sum, err := h.run(t, context.Background(), list, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, contacts.StatusNotSent, list[1].Status)
	assert.Len(t, h.rec.enqueued, 2)
	for _, c := range h.rec.enqueued {
		assert.Equal(t, contacts.StatusSent, c.Status)
	}
}

func TestInvalidPhoneFailsWithoutSending(t *testing.T) {
	t.Parallel()
	list := makeContacts(2)
	list[0].NormalizedPhone = contacts.InvalidPhone
	h := newHarness(t, &messagingtest.Client{}, 1, Config{})

	sum, err := h.run(t, context.Background(), list, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Len(t, h.fake.Sends(), 1)
}

func TestWorkersPartitionBatchesWithoutOverlap(t *testing.T) {
	t.Parallel()
	fake := &messagingtest.Client{SendFunc: func(ctx context.Context, identity, target string) error {
		time.Sleep(100 * time.Microsecond)
		return nil
	}}
	h := newHarness(t, fake, 4, Config{})
	list := makeContacts(97)

	sum, err := h.run(t, context.Background(), list, 7)
	require.NoError(t, err)
	assert.Equal(t, 97, sum.Sent)
	assert.False(t, fake.Overlapped())

	seen := map[int]int{}
	for _, w := range sum.Workers {
		for _, seq := range w.Batches {
			seen[seq]++
		}
	}
	require.Len(t, seen, 14)
	for seq, n := range seen {
		assert.Equal(t, 1, n, "batch %d", seq)
	}

	targets := map[string]int{}
	byIdentity := map[string][]string{}
	for _, s := range fake.Sends() {
		targets[s.Target]++
		byIdentity[s.Identity] = append(byIdentity[s.Identity], s.Target)
	}
	require.Len(t, targets, 97)
	for tgt, n := range targets {
		assert.Equal(t, 1, n, tgt)
	}
	// Within one worker, targets are strictly increasing: batches are popped
	// in order and contacts inside a batch keep their order.
	for id, seq := range byIdentity {
		for i := 1; i < len(seq); i++ {
			assert.Less(t, seq[i-1], seq[i], id)
		}
	}
}

func TestRestartFailureKeepsWorkerOnStaleSession(t *testing.T) {
	t.Parallel()
	fake := &messagingtest.Client{PairFunc: func(ctx context.Context, identity string, attempt int) error {
		if attempt > 1 {
			return errors.New("pairing timed out")
		}
		return nil
	}}
	h := newHarness(t, fake, 1, Config{})

	sum, err := h.run(t, context.Background(), makeContacts(4), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.RestartFailures)
	assert.Equal(t, 0, sum.Restarts)
	assert.Equal(t, 2, sum.Sent)
	// The stale session was destroyed before the failed re-pair.
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, []int{1, 2}, sum.Workers[0].Batches)
}

func TestRunInterrupted(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var n int
	var mu sync.Mutex
	fake := &messagingtest.Client{SendFunc: func(_ context.Context, identity, target string) error {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 3 {
			cancel()
		}
		return nil
	}}
	h := newHarness(t, fake, 1, Config{})
	list := makeContacts(10)

	sum, err := h.run(t, ctx, list, 5)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, sum.Interrupted)
	assert.Equal(t, 3, sum.Sent)
	assert.Len(t, fake.Sends(), 3)
	assert.Equal(t, contacts.StatusNotSent, list[3].Status)
}

func TestRunRejectsBadInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &messagingtest.Client{}, 1, Config{})
	_, err := h.sched.Run(context.Background(), nil, nil, messaging.TextMessage("x"))
	assert.ErrorIs(t, err, contacts.ErrInvalidConfiguration)
	_, err = h.sched.Run(context.Background(), h.workers, nil, messaging.TextMessage(" "))
	assert.ErrorIs(t, err, contacts.ErrInvalidConfiguration)

	assert.ErrorIs(t, h.sched.Apply(Config{FailurePolicy: "retry_forever"}), contacts.ErrInvalidConfiguration)
	assert.ErrorIs(t, h.sched.Apply(Config{Delay: -time.Second}), contacts.ErrInvalidConfiguration)
}

func TestEmptyRunDrainsImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &messagingtest.Client{}, 2, Config{})
	sum, err := h.run(t, context.Background(), nil, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Sent)
	assert.Equal(t, 0, sum.Restarts)
	for _, w := range h.workers {
		assert.Equal(t, session.StateDraining, w.State())
	}
}

func TestSendTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()
	fake := &messagingtest.Client{SendFunc: func(ctx context.Context, identity, target string) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	h := newHarness(t, fake, 1, Config{Delay: time.Second, SendTimeout: 30 * time.Millisecond})
	events, unsub := h.bus.Subscribe(64)
	defer unsub()
	list := makeContacts(3)

	sum, err := h.run(t, context.Background(), list, 2)
	require.NoError(t, err)
	assert.False(t, sum.Interrupted)
	assert.Equal(t, 0, sum.Sent)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, 2, sum.Batches)
	assert.Equal(t, 1, sum.Restarts)

	for _, c := range list {
		assert.Equal(t, contacts.StatusFailed, c.Status, c.FirstName)
	}
	assert.Len(t, fake.Sends(), 3)
	assert.Equal(t, 3, h.sleeps.count(), "each timed-out send still waits the delay")

	var errs []string
	for len(events) > 0 {
		if e := <-events; e.Type == EventOutcome {
			errs = append(errs, e.Data.(OutcomeEvent).Err)
		}
	}
	require.Len(t, errs, 3)
	for _, msg := range errs {
		assert.Contains(t, msg, context.DeadlineExceeded.Error())
	}
}

func TestMaxPerSecondPacesAllWorkers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &messagingtest.Client{}, 3, Config{MaxPerSecond: 20})

	start := time.Now()
	sum, err := h.run(t, context.Background(), makeContacts(11), 4)
	took := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, 11, sum.Sent)
	// One send goes out at once, the other ten wait 50ms each.
	assert.GreaterOrEqual(t, took, 450*time.Millisecond)
	assert.Less(t, took, 5*time.Second)
}

func TestApplyChangesDelayMidRun(t *testing.T) {
	t.Parallel()
	fake := &messagingtest.Client{}
	pool := session.NewPool(fake, session.Config{}, logx.Nop())
	workers, err := pool.Init(context.Background(), 1)
	require.NoError(t, err)

	var sched *Scheduler
	var waits []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 2 {
			assert.NoError(t, sched.Apply(Config{Delay: 5 * time.Second}))
		}
		return ctx.Err()
	}
	sched, err = New(Config{Delay: time.Second}, &fakeRecorder{}, pool, WithSleep(sleep))
	require.NoError(t, err)

	batches, err := contacts.Split(makeContacts(4), 2)
	require.NoError(t, err)
	sum, err := sched.Run(context.Background(), workers, batches, messaging.TextMessage("hello"))
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Sent)
	assert.Equal(t, []time.Duration{time.Second, time.Second, 5 * time.Second, 5 * time.Second}, waits)
}

// gatedRestarter holds the first restart until release returns.
type gatedRestarter struct {
	pool    *session.Pool
	release func()

	mu    sync.Mutex
	first int
}

func (g *gatedRestarter) Restart(ctx context.Context, w *session.Worker) error {
	g.mu.Lock()
	gated := g.first == 0
	if gated {
		g.first = w.ID()
	}
	g.mu.Unlock()
	if gated {
		g.release()
	}
	return g.pool.Restart(ctx, w)
}

func TestRestartingWorkerLeavesNextBatchQueued(t *testing.T) {
	t.Parallel()
	fake := &messagingtest.Client{}
	pool := session.NewPool(fake, session.Config{}, logx.Nop())
	workers, err := pool.Init(context.Background(), 2)
	require.NoError(t, err)

	g := &gatedRestarter{pool: pool, release: func() {
		deadline := time.Now().Add(2 * time.Second)
		for len(fake.Sends()) < 3 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}}
	sleeps := &sleepLog{}
	sched, err := New(Config{}, &fakeRecorder{}, g, WithSleep(sleeps.sleep))
	require.NoError(t, err)

	batches, err := contacts.Split(makeContacts(3), 1)
	require.NoError(t, err)
	sum, err := sched.Run(context.Background(), workers, batches, messaging.TextMessage("hello"))
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Sent)

	// While the first worker restarted, the other one took the remaining batch.
	for _, w := range sum.Workers {
		if w.Worker == g.first {
			assert.Len(t, w.Batches, 1)
		} else {
			assert.Len(t, w.Batches, 2)
		}
	}
}
