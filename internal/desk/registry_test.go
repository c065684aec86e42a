package desk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"librarydesk/internal/worker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(sched Scheduler, clock *fakeClock) *Registry {
	factory := func() (Backend, error) { return &fakeBackend{}, nil }
	return NewRegistry(factory, sched, Options{Logger: zap.NewNop(), Now: clock.Now}, 10*time.Minute)
}

func TestRegistryCreateGetRemove(t *testing.T) {
	sched := &queueScheduler{}
	reg := newTestRegistry(sched, &fakeClock{now: fixedNow})

	d, err := reg.Create()
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
	assert.Len(t, sched.jobs, 1)

	got, err := reg.Get(d.ID())
	require.NoError(t, err)
	assert.Same(t, d, got)

	events, _ := d.Subscribe(1)
	assert.True(t, reg.Remove(d.ID()))
	assert.False(t, reg.Remove(d.ID()))
	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, []string{d.ID()}, sched.cancelled)

	_, err = reg.Get(d.ID())
	assert.ErrorIs(t, err, ErrDeskNotFound)
}

func TestRegistryCreateFailures(t *testing.T) {
	reg := newTestRegistry(&queueScheduler{busy: true}, &fakeClock{now: fixedNow})
	_, err := reg.Create()
	assert.ErrorIs(t, err, worker.ErrDispatcherBusy)
	assert.Zero(t, reg.Len())

	boom := errors.New("bad base url")
	reg = NewRegistry(func() (Backend, error) { return nil, boom }, &queueScheduler{}, Options{}, time.Minute)
	_, err = reg.Create()
	assert.ErrorIs(t, err, boom)
}

func TestRegistrySweepsIdleDesks(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	reg := newTestRegistry(&queueScheduler{}, clock)

	idle, err := reg.Create()
	require.NoError(t, err)
	active, err := reg.Create()
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = reg.Get(active.ID())
	require.NoError(t, err)
	assert.Zero(t, reg.Sweep())

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, reg.Sweep())
	_, err = reg.Get(idle.ID())
	assert.ErrorIs(t, err, ErrDeskNotFound)
	_, err = reg.Get(active.ID())
	assert.NoError(t, err)

	reg.CloseAll()
	assert.Zero(t, reg.Len())
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	reg := newTestRegistry(&queueScheduler{}, &fakeClock{now: fixedNow})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry sweeper did not stop")
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	origins []string
}

func (n *recordingNotifier) Publish(_ context.Context, deskID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.origins = append(n.origins, deskID)
	return nil
}

func TestBorrowRefreshesOtherDesks(t *testing.T) {
	sched := &queueScheduler{}
	reg := newTestRegistry(sched, &fakeClock{now: fixedNow})
	notifier := &recordingNotifier{}
	reg.SetNotifier(notifier)

	a, err := reg.Create()
	require.NoError(t, err)
	b, err := reg.Create()
	require.NoError(t, err)
	sched.runAll(context.Background())

	notice, err := a.Borrow(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, notice.OK())

	sched.mu.Lock()
	keys := make([]string, 0, len(sched.jobs))
	for _, j := range sched.jobs {
		assert.Equal(t, "refresh", j.Name)
		keys = append(keys, j.Key)
	}
	sched.mu.Unlock()
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, keys)
	assert.Equal(t, []string{a.ID()}, notifier.origins)

	sched.runAll(context.Background())
	assert.Equal(t, 2, reg.RefreshAll(""))
	assert.Equal(t, 1, reg.RefreshAll(a.ID()))
	sched.runAll(context.Background())

	sched.busy = true
	assert.Zero(t, reg.RefreshAll(""))
}

func TestFailedActionDoesNotAnnounceChange(t *testing.T) {
	backend := &fakeBackend{returnErr: errors.New("boom")}
	c := New("desk-c", backend, &queueScheduler{}, Options{OnCatalogChange: func(string) { t.Error("unexpected catalog change") }})
	_, err := c.Return(context.Background(), 1)
	assert.Error(t, err)
}
