package view

import "sync"

// Region names.
const (
	RegionUserInfo = "user-info"
	RegionCatalog  = "book-list"
	RegionRecords  = "borrow-records"
)

// Region is the handle of one view region. Every render issues a sequence
// number with Begin and its result is kept only if no later render was issued
// meanwhile, so the latest request wins regardless of arrival order.
type Region[T any] struct {
	name string

	mu      sync.Mutex
	issued  uint64
	applied uint64
	loading bool
	state   T
}

func NewRegion[T any](name string, initial T) *Region[T] {
	return &Region[T]{name: name, state: initial}
}

func (r *Region[T]) Name() string { return r.name }

// Begin issues the next sequence number and marks the region as loading.
func (r *Region[T]) Begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
	r.loading = true
	return r.issued
}

// Apply replaces the region content when seq is the latest issued sequence.
// It reports whether the write was applied.
func (r *Region[T]) Apply(seq uint64, state T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq != r.issued {
		return false
	}
	r.state = state
	r.applied = seq
	r.loading = false
	return true
}

// RegionState is a point-in-time copy of a region.
type RegionState[T any] struct {
	Name    string `json:"name"`
	Seq     uint64 `json:"seq"`
	Loading bool   `json:"loading"`
	State   T      `json:"state"`
}

func (r *Region[T]) Snapshot() RegionState[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegionState[T]{Name: r.name, Seq: r.applied, Loading: r.loading, State: r.state}
}
