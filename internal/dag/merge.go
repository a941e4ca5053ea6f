package dag

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// Solver settles elements that both sides of a merge changed differently.
// base, first and second are nil where the element is absent. Solve returns
// the merged element (nil to remove it) and true, or false to leave the
// element conflicted.
type Solver interface {
	Solve(id ElementID, base, first, second *Element) (*Element, bool)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(id ElementID, base, first, second *Element) (*Element, bool)

func (f SolverFunc) Solve(id ElementID, base, first, second *Element) (*Element, bool) {
	return f(id, base, first, second)
}

var (
	// KeepBoth never decides; every differing edit becomes a conflict.
	KeepBoth Solver = SolverFunc(func(ElementID, *Element, *Element, *Element) (*Element, bool) {
		return nil, false
	})
	// PreferFirst takes the first tip's outcome, removals included.
	PreferFirst Solver = SolverFunc(func(_ ElementID, _, first, _ *Element) (*Element, bool) {
		return first, true
	})
	// PreferSecond takes the second tip's outcome, removals included.
	PreferSecond Solver = SolverFunc(func(_ ElementID, _, _, second *Element) (*Element, bool) {
		return second, true
	})
)

// SolverByName maps a merge policy name to its solver.
func SolverByName(name string) (Solver, error) {
	switch name {
	case "", "keep-both":
		return KeepBoth, nil
	case "prefer-first":
		return PreferFirst, nil
	case "prefer-second":
		return PreferSecond, nil
	default:
		return nil, fmt.Errorf("unknown merge policy %q", name)
	}
}

// MergeResult describes the outcome of merging two commits.
type MergeResult struct {
	// Commit is the merge commit, the adopted descendant of a fast-forward,
	// or the pre-existing commit that already held the merged state.
	Commit *Commit
	// Conflicts lists the ids left conflicted, in ascending order.
	Conflicts []ElementID
	// FastForward is set when one input already contained the other.
	FastForward bool
	// Duplicate is set when the merged state was already recorded.
	Duplicate bool
}

// Created reports whether the merge produced a new commit.
func (r *MergeResult) Created() bool {
	return !r.FastForward && !r.Duplicate
}

// Merger runs three-way merges on a graph.
type Merger struct {
	graph  *Graph
	solver Solver
	log    logrus.FieldLogger
}

// NewMerger returns a merger over g. A nil solver means KeepBoth and a nil
// logger means the logrus standard logger.
func NewMerger(g *Graph, solver Solver, log logrus.FieldLogger) *Merger {
	if solver == nil {
		solver = KeepBoth
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Merger{graph: g, solver: solver, log: log}
}

// Merge joins commits a and b. If one contains the other the descendant is
// returned as a fast-forward. Otherwise the changes each side made since
// their common ancestor are combined into a new commit with parents [a, b].
// Conflicts are reported in the result, never as an error. If the combined
// state is already recorded, that commit becomes a tip in place of a and b.
func (m *Merger) Merge(a, b Sum, meta Meta, ts time.Time) (*MergeResult, error) {
	ca, ok := m.graph.Get(a)
	if !ok {
		return nil, fmt.Errorf("merge: %s: %w", a.Short(), ErrUnknownCommit)
	}
	if a == b {
		return &MergeResult{Commit: ca, FastForward: true}, nil
	}
	base, err := m.graph.CommonAncestor(a, b)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	switch base.ID {
	case a:
		cb, _ := m.graph.Get(b)
		m.supersede(b, a)
		return &MergeResult{Commit: cb, FastForward: true}, nil
	case b:
		m.supersede(a, b)
		return &MergeResult{Commit: ca, FastForward: true}, nil
	}

	states := make([]*State, 3)
	for i, id := range []Sum{base.ID, a, b} {
		if states[i], err = m.graph.StateAt(id); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
	}
	merged, conflicts := m.threeWay(states[0], states[1], states[2])

	log := m.log.WithFields(logrus.Fields{
		"base":      base.ID.Short(),
		"parents":   []string{a.Short(), b.Short()},
		"conflicts": len(conflicts),
	})

	parents := []Sum{a, b}
	c, err := m.graph.Insert(merged.withParents(parents), parents, meta, ts)
	var dup *DuplicateCommitError
	switch {
	case errors.As(err, &dup):
		// The merged state is already recorded, possibly as an ancestor
		// of both inputs. It replaces them as a tip.
		m.graph.adopt(dup.Existing.ID, a, b)
		log.WithField("commit", dup.Existing.ID.Short()).Debug("merge reproduced a known state")
		return &MergeResult{Commit: dup.Existing, Conflicts: conflicts, Duplicate: true}, nil
	case err != nil:
		return nil, fmt.Errorf("merge: %w", err)
	}
	log.WithField("commit", c.ID.Short()).Debug("merged")
	return &MergeResult{Commit: c, Conflicts: conflicts}, nil
}

// supersede drops ancestor from the tips when its descendant is a tip too.
// That only happens after a tip was moved back onto a recorded state.
func (m *Merger) supersede(descendant, ancestor Sum) {
	if m.graph.IsTip(descendant) {
		m.graph.adopt(descendant, ancestor)
	}
}

// threeWay combines the edits first and second made relative to base.
func (m *Merger) threeWay(base, first, second *State) (*State, []ElementID) {
	touchedA := base.Diff(first).Touched()
	touchedB := base.Diff(second).Touched()
	touched := maps.Clone(touchedA)
	maps.Copy(touched, touchedB)

	elts := maps.Clone(base.elts)
	if elts == nil {
		elts = map[ElementID]Element{}
	}
	set := func(id ElementID, e Element, present bool) {
		if present {
			elts[id] = e.Clone()
		} else {
			delete(elts, id)
		}
	}

	var conflicts []ElementID
	for _, id := range slices.Sorted(maps.Keys(touched)) {
		ea, inA := first.elts[id]
		eb, inB := second.elts[id]
		_, byA := touchedA[id]
		_, byB := touchedB[id]
		switch {
		case byA && !byB:
			set(id, ea, inA)
			continue
		case byB && !byA:
			set(id, eb, inB)
			continue
		case inA == inB && (!inA || ea.Equal(eb)):
			set(id, ea, inA)
			continue
		}

		if resolved, ok := m.solver.Solve(id, elementRef(base, id), elementRef(first, id), elementRef(second, id)); ok {
			if resolved == nil {
				delete(elts, id)
			} else {
				e := resolved.Clone()
				e.ID = id
				elts[id] = e
			}
			continue
		}

		candidates := mergeCandidates(versionsOf(ea, inA), versionsOf(eb, inB))
		if len(candidates) == 1 {
			v := candidates[0]
			if v.Removed {
				delete(elts, id)
			} else {
				elts[id] = NewElement(id, v.Payload, v.Metadata)
			}
			continue
		}
		elts[id] = Element{ID: id, Candidates: candidates}
		conflicts = append(conflicts, id)
	}
	return &State{elts: elts}, conflicts
}

func elementRef(s *State, id ElementID) *Element {
	e, ok := s.Get(id)
	if !ok {
		return nil
	}
	return &e
}

// mergeCandidates unions both sides' versions, dropping repeats, in digest
// order so the result does not depend on which side came first.
func mergeCandidates(a, b []Version) []Version {
	byDigest := make(map[Sum]Version, len(a)+len(b))
	for _, v := range slices.Concat(a, b) {
		byDigest[versionDigest(v)] = v.clone()
	}
	out := make([]Version, 0, len(byDigest))
	for _, d := range slices.SortedFunc(maps.Keys(byDigest), CompareSums) {
		out = append(out, byDigest[d])
	}
	return out
}
