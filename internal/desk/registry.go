package desk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrDeskNotFound = errors.New("desk not found")

// CatalogNotifier spreads catalog changes to other server instances.
type CatalogNotifier interface {
	Publish(ctx context.Context, deskID string) error
}

const notifyTimeout = 2 * time.Second

// BackendFactory builds the backend client of a new desk. Each desk gets its
// own client so cookies are never shared.
type BackendFactory func() (Backend, error)

// Registry owns the open desks and sweeps the idle ones.
type Registry struct {
	factory   BackendFactory
	scheduler Scheduler
	opts      Options
	ttl       time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	desks    map[string]*Desk
	notifier CatalogNotifier
}

func NewRegistry(factory BackendFactory, scheduler Scheduler, opts Options, ttl time.Duration) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		factory:   factory,
		scheduler: scheduler,
		opts:      opts,
		ttl:       ttl,
		logger:    opts.Logger,
		desks:     make(map[string]*Desk),
	}
}

// Create opens a desk and starts its initial load.
func (r *Registry) Create() (*Desk, error) {
	backend, err := r.factory()
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}
	opts := r.opts
	opts.OnCatalogChange = r.catalogChanged
	d := New(uuid.NewString(), backend, r.scheduler, opts)
	if err := d.Start(); err != nil {
		d.Close()
		return nil, fmt.Errorf("start desk: %w", err)
	}
	r.mu.Lock()
	r.desks[d.ID()] = d
	r.mu.Unlock()
	r.logger.Debug("desk opened", zap.String("desk", d.ID()))
	return d, nil
}

// Get returns the desk and marks it active.
func (r *Registry) Get(id string) (*Desk, error) {
	r.mu.Lock()
	d, ok := r.desks[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrDeskNotFound
	}
	d.Touch()
	return d, nil
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	d, ok := r.desks[id]
	delete(r.desks, id)
	r.mu.Unlock()
	if ok {
		d.Close()
		r.logger.Debug("desk closed", zap.String("desk", id))
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.desks)
}

// Sweep closes desks idle for longer than the TTL and returns how many it closed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.opts.Now().Add(-r.ttl)
	var stale []*Desk
	r.mu.Lock()
	for id, d := range r.desks {
		if d.LastSeen().Before(cutoff) {
			stale = append(stale, d)
			delete(r.desks, id)
		}
	}
	r.mu.Unlock()
	for _, d := range stale {
		d.Close()
	}
	if len(stale) > 0 {
		r.logger.Info("swept idle desks", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// SetNotifier publishes every local catalog change through n.
func (r *Registry) SetNotifier(n CatalogNotifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

// RefreshAll schedules a refresh of every desk except skip and returns how
// many were scheduled. A desk whose refresh is refused catches up on its next
// action.
func (r *Registry) RefreshAll(skip string) int {
	r.mu.Lock()
	desks := make([]*Desk, 0, len(r.desks))
	for id, d := range r.desks {
		if id != skip {
			desks = append(desks, d)
		}
	}
	r.mu.Unlock()

	scheduled := 0
	for _, d := range desks {
		if err := d.ScheduleRefresh(); err != nil {
			r.logger.Debug("skip desk refresh", zap.String("desk", d.ID()), zap.Error(err))
			continue
		}
		scheduled++
	}
	return scheduled
}

// catalogChanged runs after a borrow or return on origin: the other desks
// show stale availability until they refresh.
func (r *Registry) catalogChanged(origin string) {
	r.RefreshAll(origin)
	r.mu.Lock()
	n := r.notifier
	r.mu.Unlock()
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := n.Publish(ctx, origin); err != nil {
		r.logger.Warn("publish catalog change", zap.String("desk", origin), zap.Error(err))
	}
}

// CloseAll closes every desk, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	desks := r.desks
	r.desks = make(map[string]*Desk)
	r.mu.Unlock()
	for _, d := range desks {
		d.Close()
	}
}
