// Package errorstate keeps the last filter error per segment so the next
// prediction for that segment can continue from it.
package errorstate

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kilianp07/arrivalcast/core/model"
)

type key struct {
	ns  model.Namespace
	seg model.SegmentKey
}

// Entry is one persisted error value.
type Entry struct {
	Namespace model.Namespace  `json:"namespace"`
	Segment   model.SegmentKey `json:"segment"`
	Value     float64          `json:"value"`
}

// Store maps (namespace, segment) to the last filter error. Values are kept
// as atomic bit patterns so reads and writes never lock. Entries never
// expire.
type Store struct {
	values sync.Map // key -> *atomic.Uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Get returns the stored error or def when none was recorded.
func (s *Store) Get(seg model.SegmentKey, ns model.Namespace, def float64) float64 {
	v, ok := s.values.Load(key{ns: ns, seg: seg})
	if !ok {
		return def
	}
	return math.Float64frombits(v.(*atomic.Uint64).Load())
}

// Put overwrites the error of seg in ns.
func (s *Store) Put(seg model.SegmentKey, ns model.Namespace, value float64) {
	k := key{ns: ns, seg: seg}
	bits := math.Float64bits(value)
	if v, ok := s.values.Load(k); ok {
		v.(*atomic.Uint64).Store(bits)
		return
	}
	n := new(atomic.Uint64)
	n.Store(bits)
	if v, loaded := s.values.LoadOrStore(k, n); loaded {
		v.(*atomic.Uint64).Store(bits)
	}
}

// Len returns the number of stored values.
func (s *Store) Len() int {
	n := 0
	s.values.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Snapshot returns every stored value ordered by namespace and segment.
func (s *Store) Snapshot() []Entry {
	var out []Entry
	s.values.Range(func(k, v any) bool {
		kk := k.(key)
		out = append(out, Entry{Namespace: kk.ns, Segment: kk.seg, Value: math.Float64frombits(v.(*atomic.Uint64).Load())})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Segment.Group != b.Segment.Group {
			return a.Segment.Group < b.Segment.Group
		}
		return a.Segment.StopPathIndex < b.Segment.StopPathIndex
	})
	return out
}

// Restore loads entries, overwriting existing values.
func (s *Store) Restore(entries []Entry) {
	for _, e := range entries {
		s.Put(e.Segment, e.Namespace, e.Value)
	}
}
