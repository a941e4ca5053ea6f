package dag

import (
	"encoding/hex"
	"fmt"
	"iter"
	"slices"
	"strings"
)

// Ancestors walks the history of id breadth-first, starting with id itself
// and ending at the root. Each commit is yielded once. The sequence can be
// ranged over repeatedly; an unknown id yields nothing.
func (g *Graph) Ancestors(id Sum) iter.Seq[*Commit] {
	return func(yield func(*Commit) bool) {
		start, ok := g.Get(id)
		if !ok {
			return
		}
		seen := map[Sum]struct{}{id: {}}
		queue := []*Commit{start}
		for len(queue) > 0 {
			c := queue[0]
			queue = queue[1:]
			if !yield(c) {
				return
			}
			for _, p := range c.Parents {
				if _, ok := seen[p]; ok {
					continue
				}
				seen[p] = struct{}{}
				if pc, ok := g.Get(p); ok {
					queue = append(queue, pc)
				}
			}
		}
	}
}

// IsAncestor reports whether a is a strict ancestor of b. A commit is never
// its own ancestor.
func (g *Graph) IsAncestor(a, b Sum) bool {
	if a == b {
		return false
	}
	for c := range g.Ancestors(b) {
		if c.ID == a {
			return true
		}
	}
	return false
}

// distancesLocked maps every commit reachable from id to its shortest
// parent-edge distance. The caller holds g.mu.
func (g *Graph) distancesLocked(id Sum) map[Sum]int {
	dist := map[Sum]int{id: 0}
	queue := []Sum{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range g.commits[cur].Parents {
			if _, ok := dist[p]; ok {
				continue
			}
			dist[p] = dist[cur] + 1
			queue = append(queue, p)
		}
	}
	return dist
}

// CommonAncestor returns the lowest common ancestor of a and b: a commit
// reachable from both that is not a strict ancestor of another such commit.
// Several may qualify after criss-cross merges; the one with the fewest
// combined edges from a and b wins, then the smallest id.
func (g *Graph) CommonAncestor(a, b Sum) (*Commit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range []Sum{a, b} {
		if _, ok := g.commits[id]; !ok {
			return nil, fmt.Errorf("common ancestor: %s: %w", id.Short(), ErrUnknownCommit)
		}
	}

	distA := g.distancesLocked(a)
	distB := g.distancesLocked(b)
	common := make(map[Sum]struct{})
	for id := range distA {
		if _, ok := distB[id]; ok {
			common[id] = struct{}{}
		}
	}
	if len(common) == 0 {
		return nil, fmt.Errorf("%s and %s: %w", a.Short(), b.Short(), ErrNoCommonAncestor)
	}

	// Everything strictly below a common ancestor is not lowest. The shared
	// visited set keeps this linear: a visited commit's ancestors are
	// already marked.
	below := make(map[Sum]struct{})
	for id := range common {
		queue := slices.Clone(g.commits[id].Parents)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if _, ok := below[cur]; ok {
				continue
			}
			below[cur] = struct{}{}
			queue = append(queue, g.commits[cur].Parents...)
		}
	}

	var best Sum
	bestDist := -1
	for id := range common {
		if _, ok := below[id]; ok {
			continue
		}
		d := distA[id] + distB[id]
		if bestDist < 0 || d < bestDist || (d == bestDist && id.Compare(best) < 0) {
			best, bestDist = id, d
		}
	}
	return g.commits[best], nil
}

// MatchSum resolves a full sum (either encoding), or a unique prefix of its
// hex or base32 form, to a commit.
func (g *Graph) MatchSum(text string) (*Commit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty commit reference: %w", ErrUnknownCommit)
	}
	if id, err := ParseSum(text); err == nil {
		if c, ok := g.Get(id); ok {
			return c, nil
		}
		return nil, fmt.Errorf("commit %s: %w", text, ErrUnknownCommit)
	}

	_, hexErr := hex.DecodeString(text[:len(text)&^1])
	lower := strings.ToLower(text)

	g.mu.RLock()
	defer g.mu.RUnlock()
	var found *Commit
	for id, c := range g.commits {
		if (hexErr == nil && strings.HasPrefix(id.Hex(), lower)) || strings.HasPrefix(id.String(), text) {
			if found != nil && found.ID != id {
				return nil, fmt.Errorf("prefix %q: %w", text, ErrAmbiguousPrefix)
			}
			found = c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("prefix %q: %w", text, ErrUnknownCommit)
	}
	return found, nil
}
