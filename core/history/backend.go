package history

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/arrivalcast/core/model"
)

// Bucket is an immutable snapshot of the events stored under one key.
// A new Bucket is built for every update; published buckets are never
// modified.
type Bucket struct {
	Day    time.Time
	Events []model.ArrivalDeparture
}

// Len returns the number of events in the bucket.
func (b *Bucket) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}

// Backend stores bucket snapshots keyed by K. Update must apply fn
// atomically with respect to other updates of the same key; fn may be called
// more than once and must not have side effects.
type Backend[K comparable] interface {
	Load(key K) (*Bucket, bool)
	Update(key K, fn func(old *Bucket) *Bucket) *Bucket
	Delete(key K)
	Range(fn func(key K, b *Bucket) bool)
	Len() int
}

// MemoryBackend keeps buckets in process memory. Each key owns an atomic
// pointer updated with a compare-and-swap loop, so writers of different keys
// never contend and readers never block.
type MemoryBackend[K comparable] struct {
	slots   sync.Map // K -> *atomic.Pointer[Bucket]
	retries atomic.Int64
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend[K comparable]() *MemoryBackend[K] {
	return &MemoryBackend[K]{}
}

func (m *MemoryBackend[K]) slot(key K) *atomic.Pointer[Bucket] {
	if v, ok := m.slots.Load(key); ok {
		return v.(*atomic.Pointer[Bucket])
	}
	v, _ := m.slots.LoadOrStore(key, new(atomic.Pointer[Bucket]))
	return v.(*atomic.Pointer[Bucket])
}

// Load returns the current snapshot for key.
func (m *MemoryBackend[K]) Load(key K) (*Bucket, bool) {
	v, ok := m.slots.Load(key)
	if !ok {
		return nil, false
	}
	b := v.(*atomic.Pointer[Bucket]).Load()
	return b, b != nil
}

// Update replaces the bucket for key with fn(current). A nil result leaves
// the slot untouched.
func (m *MemoryBackend[K]) Update(key K, fn func(old *Bucket) *Bucket) *Bucket {
	for {
		p := m.slot(key)
		old := p.Load()
		next := fn(old)
		if next == nil {
			return old
		}
		if !p.CompareAndSwap(old, next) {
			m.retries.Add(1)
			continue
		}
		// A concurrent Delete may have detached the slot; write again into
		// the live one.
		if cur, ok := m.slots.Load(key); ok && cur.(*atomic.Pointer[Bucket]) == p {
			return next
		}
		m.retries.Add(1)
	}
}

// Delete removes key.
func (m *MemoryBackend[K]) Delete(key K) {
	m.slots.Delete(key)
}

// Range calls fn for every non-empty bucket until fn returns false.
func (m *MemoryBackend[K]) Range(fn func(key K, b *Bucket) bool) {
	m.slots.Range(func(k, v any) bool {
		b := v.(*atomic.Pointer[Bucket]).Load()
		if b == nil {
			return true
		}
		return fn(k.(K), b)
	})
}

// Len returns the number of non-empty buckets.
func (m *MemoryBackend[K]) Len() int {
	n := 0
	m.Range(func(K, *Bucket) bool {
		n++
		return true
	})
	return n
}

// Retries returns how many compare-and-swap attempts lost a race.
func (m *MemoryBackend[K]) Retries() int64 {
	return m.retries.Load()
}
