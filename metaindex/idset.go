// Package metaindex implements the engine's metadata inverted index:
// field -> value -> entity-id set, plus cardinality and per-type
// affinity statistics, and the filter-evaluation operations that back
// find() queries.
package metaindex

import "sort"

// IDSet is a small hand-rolled set over sorted uint32 ordinals standing
// in for a compressed bitmap: dense enough for intersection/union to
// stay linear-merge cheap, simple enough to not need an external
// dependency that nothing else in the stack would otherwise exercise.
type IDSet struct {
	ids []uint32
}

func NewIDSet() *IDSet { return &IDSet{} }

func NewIDSetFrom(ids []uint32) *IDSet {
	s := &IDSet{ids: append([]uint32(nil), ids...)}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	s.dedup()
	return s
}

func (s *IDSet) dedup() {
	if len(s.ids) < 2 {
		return
	}
	out := s.ids[:1]
	for _, id := range s.ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	s.ids = out
}

// Add inserts id, keeping ids sorted. O(n) — acceptable since sets are
// rebuilt in bulk far more often than mutated one id at a time.
func (s *IDSet) Add(id uint32) {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return
	}
	s.ids = append(s.ids, 0)
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = id
}

func (s *IDSet) Remove(id uint32) {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		s.ids = append(s.ids[:i], s.ids[i+1:]...)
	}
}

func (s *IDSet) Contains(id uint32) bool {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	return i < len(s.ids) && s.ids[i] == id
}

func (s *IDSet) Len() int { return len(s.ids) }

func (s *IDSet) Slice() []uint32 { return append([]uint32(nil), s.ids...) }

// Intersect returns ids present in both sets, merging the two sorted
// slices in a single linear pass.
func Intersect(a, b *IDSet) *IDSet {
	out := &IDSet{}
	i, j := 0, 0
	for i < len(a.ids) && j < len(b.ids) {
		switch {
		case a.ids[i] < b.ids[j]:
			i++
		case a.ids[i] > b.ids[j]:
			j++
		default:
			out.ids = append(out.ids, a.ids[i])
			i++
			j++
		}
	}
	return out
}

// Union merges both sets.
func Union(a, b *IDSet) *IDSet {
	out := &IDSet{}
	i, j := 0, 0
	for i < len(a.ids) && j < len(b.ids) {
		switch {
		case a.ids[i] < b.ids[j]:
			out.ids = append(out.ids, a.ids[i])
			i++
		case a.ids[i] > b.ids[j]:
			out.ids = append(out.ids, b.ids[j])
			j++
		default:
			out.ids = append(out.ids, a.ids[i])
			i++
			j++
		}
	}
	out.ids = append(out.ids, a.ids[i:]...)
	out.ids = append(out.ids, b.ids[j:]...)
	return out
}

// Difference returns ids in a that are not in b.
func Difference(a, b *IDSet) *IDSet {
	out := &IDSet{}
	i, j := 0, 0
	for i < len(a.ids) {
		if j >= len(b.ids) || a.ids[i] < b.ids[j] {
			out.ids = append(out.ids, a.ids[i])
			i++
		} else if a.ids[i] > b.ids[j] {
			j++
		} else {
			i++
			j++
		}
	}
	return out
}
