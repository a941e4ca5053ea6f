package dag

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ChangeKind names one element-level edit.
type ChangeKind string

const (
	ChangeInsert  ChangeKind = "insert"
	ChangeReplace ChangeKind = "replace"
	ChangeDelete  ChangeKind = "delete"
)

// Change is one edit in a commit's delta. Element is nil for deletions.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	ID      ElementID  `json:"id"`
	Element *Element   `json:"element,omitempty"`
}

// Meta is collaborator-supplied commit metadata. The core never reads it.
type Meta struct {
	Author  string `json:"author,omitempty"`
	Message string `json:"message,omitempty"`
}

// Commit is one immutable step in a partition's history. Its ID is the sum
// of the state it produces. Changes is the delta from the first parent's
// state, sorted by element id; it is empty for the root.
//
// Commits returned by a Graph are shared and must not be modified.
type Commit struct {
	ID        Sum       `json:"id"`
	Parents   []Sum     `json:"parents"`
	Timestamp time.Time `json:"timestamp"`
	Meta      Meta      `json:"meta"`
	Changes   []Change  `json:"changes"`
}

// IsRoot reports whether c has no parents.
func (c *Commit) IsRoot() bool { return len(c.Parents) == 0 }

// IsMerge reports whether c joins two lines of history.
func (c *Commit) IsMerge() bool { return len(c.Parents) == 2 }

// FirstParent returns the parent c's delta is relative to.
func (c *Commit) FirstParent() (Sum, bool) {
	if len(c.Parents) == 0 {
		return Sum{}, false
	}
	return c.Parents[0], true
}

// NumChanges returns the number of element edits in c.
func (c *Commit) NumChanges() int { return len(c.Changes) }

// changesBetween returns the delta turning from into to.
func changesBetween(from, to *State) []Change {
	d := from.Diff(to)
	changes := make([]Change, 0, d.Len())
	for _, id := range d.Added {
		e := to.elts[id].Clone()
		changes = append(changes, Change{Kind: ChangeInsert, ID: id, Element: &e})
	}
	for _, id := range d.Changed {
		e := to.elts[id].Clone()
		changes = append(changes, Change{Kind: ChangeReplace, ID: id, Element: &e})
	}
	for _, id := range d.Removed {
		changes = append(changes, Change{Kind: ChangeDelete, ID: id})
	}
	slices.SortFunc(changes, func(a, b Change) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return changes
}

// apply replays changes on top of s. Inserting an existing id, or replacing
// or deleting a missing one, means the delta was computed against a
// different state and is rejected.
func (s *State) apply(changes []Change) (*State, error) {
	m := maps.Clone(s.elts)
	if m == nil {
		m = map[ElementID]Element{}
	}
	for i, ch := range changes {
		_, exists := m[ch.ID]
		switch ch.Kind {
		case ChangeInsert, ChangeReplace:
			if ch.Element == nil || ch.Element.ID != ch.ID {
				return nil, fmt.Errorf("change %d (%s %q): missing or mismatched element", i, ch.Kind, ch.ID)
			}
			if exists == (ch.Kind == ChangeInsert) {
				return nil, fmt.Errorf("change %d (%s %q): element presence mismatch", i, ch.Kind, ch.ID)
			}
			m[ch.ID] = ch.Element.Clone()
		case ChangeDelete:
			if !exists {
				return nil, fmt.Errorf("change %d (delete %q): element not present", i, ch.ID)
			}
			delete(m, ch.ID)
		default:
			return nil, fmt.Errorf("change %d: unknown kind %q", i, ch.Kind)
		}
	}
	return &State{elts: m}, nil
}
