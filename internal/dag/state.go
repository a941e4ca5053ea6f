package dag

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// State is an immutable snapshot of a partition: a mapping from element id
// to element. Every change produces a new State; the receiver is never
// modified.
//
// A State also remembers the sums of the commits it was produced from. They
// are bookkeeping for merges only and take no part in equality or in the
// state sum.
type State struct {
	elts    map[ElementID]Element
	parents []Sum

	sumOnce sync.Once
	sum     Sum
}

// EmptyState returns a state with no elements.
func EmptyState() *State {
	return &State{elts: map[ElementID]Element{}}
}

// NewState builds a state from the given elements. Later elements with the
// same id replace earlier ones.
func NewState(elts ...Element) *State {
	m := make(map[ElementID]Element, len(elts))
	for _, e := range elts {
		m[e.ID] = e.Clone()
	}
	return &State{elts: m}
}

// Len returns the number of elements.
func (s *State) Len() int { return len(s.elts) }

// Get returns the element stored under id.
func (s *State) Get(id ElementID) (Element, bool) {
	e, ok := s.elts[id]
	if !ok {
		return Element{}, false
	}
	return e.Clone(), true
}

// Has reports whether an element is stored under id.
func (s *State) Has(id ElementID) bool {
	_, ok := s.elts[id]
	return ok
}

// IDs returns all element ids in ascending order.
func (s *State) IDs() []ElementID {
	return slices.Sorted(maps.Keys(s.elts))
}

// Elements returns copies of all elements ordered by id.
func (s *State) Elements() []Element {
	ids := s.IDs()
	out := make([]Element, len(ids))
	for i, id := range ids {
		out[i] = s.elts[id].Clone()
	}
	return out
}

// Parents returns the sums of the commits this state was produced from.
func (s *State) Parents() []Sum {
	return slices.Clone(s.parents)
}

// With returns a new state in which e is stored under e.ID.
func (s *State) With(e Element) *State {
	m := maps.Clone(s.elts)
	if m == nil {
		m = map[ElementID]Element{}
	}
	m[e.ID] = e.Clone()
	return &State{elts: m, parents: s.parents}
}

// Without returns a new state with id removed.
func (s *State) Without(id ElementID) *State {
	m := maps.Clone(s.elts)
	if m == nil {
		m = map[ElementID]Element{}
	}
	delete(m, id)
	return &State{elts: m, parents: s.parents}
}

// Resolve replaces a conflicted element with the chosen version. A removed
// version deletes the element.
func (s *State) Resolve(id ElementID, v Version) (*State, error) {
	e, ok := s.elts[id]
	if !ok || !e.Conflicted() {
		return nil, fmt.Errorf("resolve %q: %w", id, ErrNotConflicted)
	}
	if v.Removed {
		return s.Without(id), nil
	}
	return s.With(NewElement(id, v.Payload, v.Metadata)), nil
}

// Conflicts returns the ids of conflicted elements in ascending order.
func (s *State) Conflicts() []ElementID {
	var ids []ElementID
	for id, e := range s.elts {
		if e.Conflicted() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Equal reports whether both states hold equal elements under the same ids.
func (s *State) Equal(o *State) bool {
	return maps.EqualFunc(s.elts, o.elts, Element.Equal)
}

// Sum returns the state sum, computing it on first use.
func (s *State) Sum() Sum {
	s.sumOnce.Do(func() {
		s.sum = computeSum(s.elts)
	})
	return s.sum
}

// withParents returns a state sharing s's elements with different parents.
// Sharing is safe because element maps are never written after construction.
func (s *State) withParents(parents []Sum) *State {
	return &State{elts: s.elts, parents: slices.Clone(parents)}
}

// Diff describes how to get from one state to another.
type Diff struct {
	Added   []ElementID // only in the other state
	Removed []ElementID // only in the receiver
	Changed []ElementID // in both, with different content
}

// Empty reports whether the two states were equal.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Len returns the number of touched element ids.
func (d Diff) Len() int {
	return len(d.Added) + len(d.Removed) + len(d.Changed)
}

// Touched returns the set of all ids the diff mentions.
func (d Diff) Touched() map[ElementID]struct{} {
	set := make(map[ElementID]struct{}, d.Len())
	for _, list := range [][]ElementID{d.Added, d.Removed, d.Changed} {
		for _, id := range list {
			set[id] = struct{}{}
		}
	}
	return set
}

// Diff compares s with other. Swapping the arguments swaps Added and
// Removed. All lists are sorted.
func (s *State) Diff(other *State) Diff {
	var d Diff
	for id, e := range s.elts {
		o, ok := other.elts[id]
		switch {
		case !ok:
			d.Removed = append(d.Removed, id)
		case !e.Equal(o):
			d.Changed = append(d.Changed, id)
		}
	}
	for id := range other.elts {
		if _, ok := s.elts[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}
	slices.Sort(d.Added)
	slices.Sort(d.Removed)
	slices.Sort(d.Changed)
	return d
}
