package metaindex

import (
	"fmt"

	"synapsedb.dev/synapsedb/types"
)

// PredicateOp is the comparison a single field predicate applies.
type PredicateOp int

const (
	OpEquals PredicateOp = iota
	OpIn
	OpRange // uses Min/Max, either may be absent (Has flags)
	OpExists
	OpNotExists
)

// Predicate is one field-level test. Range bounds are inclusive when
// present; HasMin/HasMax false means that side is unbounded.
type Predicate struct {
	Field  string
	Op     PredicateOp
	Value  types.MetadataValue
	Values []types.MetadataValue // for OpIn

	Min, Max       types.MetadataValue
	HasMin, HasMax bool
}

// Filter is a boolean expression tree over Predicates: a Filter with
// Predicate set is a leaf; And/Or/Not combine child filters. Exactly
// one of Predicate/And/Or/Not should be set per node.
type Filter struct {
	Predicate *Predicate
	And       []*Filter
	Or        []*Filter
	Not       *Filter
}

func Eq(field string, v types.MetadataValue) *Filter {
	return &Filter{Predicate: &Predicate{Field: field, Op: OpEquals, Value: v}}
}

func In(field string, vs []types.MetadataValue) *Filter {
	return &Filter{Predicate: &Predicate{Field: field, Op: OpIn, Values: vs}}
}

func Exists(field string) *Filter {
	return &Filter{Predicate: &Predicate{Field: field, Op: OpExists}}
}

func NotExists(field string) *Filter {
	return &Filter{Predicate: &Predicate{Field: field, Op: OpNotExists}}
}

func Range(field string, min, max *types.MetadataValue) *Filter {
	p := &Predicate{Field: field, Op: OpRange}
	if min != nil {
		p.Min, p.HasMin = *min, true
	}
	if max != nil {
		p.Max, p.HasMax = *max, true
	}
	return &Filter{Predicate: p}
}

func And(fs ...*Filter) *Filter { return &Filter{And: fs} }
func Or(fs ...*Filter) *Filter  { return &Filter{Or: fs} }
func Not(f *Filter) *Filter     { return &Filter{Not: f} }

// GetIDsForFilter evaluates filter against the index and returns the
// matching ids. Conjunctions process their lowest-cardinality predicate
// first so later intersections work against the smallest possible set.
func (ix *Index) GetIDsForFilter(filter *Filter) ([]string, error) {
	if filter == nil {
		return ix.allIDs(), nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	set, err := ix.evalLocked(filter)
	if err != nil {
		return nil, err
	}
	return ix.idsFromOrdinals(set), nil
}

func (ix *Index) allIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.idToOrdinal))
	for id := range ix.idToOrdinal {
		out = append(out, id)
	}
	return out
}

func (ix *Index) allOrdinalsLocked() *IDSet {
	s := NewIDSet()
	for _, id := range ix.idToOrdinal {
		s.Add(id)
	}
	return s
}

// evalLocked assumes ix.mu is already held for reading.
func (ix *Index) evalLocked(f *Filter) (*IDSet, error) {
	switch {
	case f.Predicate != nil:
		return ix.evalPredicateLocked(f.Predicate)
	case f.Not != nil:
		inner, err := ix.evalLocked(f.Not)
		if err != nil {
			return nil, err
		}
		return Difference(ix.allOrdinalsLocked(), inner), nil
	case len(f.And) > 0:
		children := make([]*IDSet, len(f.And))
		for i, c := range f.And {
			s, err := ix.evalLocked(c)
			if err != nil {
				return nil, err
			}
			children[i] = s
		}
		// lowest-cardinality-first: sort ascending by size, then fold
		// intersections so the running set shrinks as fast as possible.
		sortByCardinality(children)
		acc := children[0]
		for _, c := range children[1:] {
			acc = Intersect(acc, c)
		}
		return acc, nil
	case len(f.Or) > 0:
		var acc *IDSet
		for _, c := range f.Or {
			s, err := ix.evalLocked(c)
			if err != nil {
				return nil, err
			}
			if acc == nil {
				acc = s
			} else {
				acc = Union(acc, s)
			}
		}
		if acc == nil {
			acc = NewIDSet()
		}
		return acc, nil
	default:
		return nil, fmt.Errorf("%w: empty filter node", types.ErrValidation)
	}
}

func sortByCardinality(sets []*IDSet) {
	for i := 1; i < len(sets); i++ {
		j := i
		for j > 0 && sets[j-1].Len() > sets[j].Len() {
			sets[j-1], sets[j] = sets[j], sets[j-1]
			j--
		}
	}
}

func (ix *Index) evalPredicateLocked(p *Predicate) (*IDSet, error) {
	fi, ok := ix.fields[p.Field]
	if !ok {
		return NewIDSet(), nil
	}
	switch p.Op {
	case OpEquals:
		if bucket, ok := fi.values[valueKey(p.Value)]; ok {
			return NewIDSetFrom(bucket.ids.Slice()), nil
		}
		return NewIDSet(), nil
	case OpIn:
		acc := NewIDSet()
		for _, v := range p.Values {
			if bucket, ok := fi.values[valueKey(v)]; ok {
				acc = Union(acc, bucket.ids)
			}
		}
		return acc, nil
	case OpExists:
		acc := NewIDSet()
		for _, bucket := range fi.values {
			acc = Union(acc, bucket.ids)
		}
		return acc, nil
	case OpNotExists:
		present := NewIDSet()
		for _, bucket := range fi.values {
			present = Union(present, bucket.ids)
		}
		return Difference(ix.allOrdinalsLocked(), present), nil
	case OpRange:
		acc := NewIDSet()
		for _, bucket := range fi.values {
			if p.HasMin {
				if cmp, err := types.Compare(bucket.value, p.Min); err != nil || cmp < 0 {
					continue
				}
			}
			if p.HasMax {
				if cmp, err := types.Compare(bucket.value, p.Max); err != nil || cmp > 0 {
					continue
				}
			}
			acc = Union(acc, bucket.ids)
		}
		return acc, nil
	default:
		return nil, fmt.Errorf("%w: unknown predicate op", types.ErrValidation)
	}
}
