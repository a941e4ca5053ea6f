package dag

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Graph is the commit DAG of one partition. It owns every commit, the tip
// set and a memo of reconstructed states. Reads may run in parallel;
// insertions are serialized by the graph's write lock.
type Graph struct {
	mu      sync.RWMutex
	root    *Commit
	commits map[Sum]*Commit
	order   []Sum // insertion order, parents before children
	tips    map[Sum]struct{}

	cacheMu sync.Mutex
	states  map[Sum]*State
}

// NewGraph returns a graph holding only the root commit.
func NewGraph() *Graph {
	empty := EmptyState()
	root := &Commit{ID: empty.Sum()}
	return &Graph{
		root:    root,
		commits: map[Sum]*Commit{root.ID: root},
		order:   []Sum{root.ID},
		tips:    map[Sum]struct{}{root.ID: {}},
		states:  map[Sum]*State{root.ID: empty},
	}
}

// Root returns the root commit: the empty state with no parents.
func (g *Graph) Root() *Commit {
	return g.root
}

// Get returns the commit with the given id.
func (g *Graph) Get(id Sum) (*Commit, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.commits[id]
	return c, ok
}

// Has reports whether id is a known commit.
func (g *Graph) Has(id Sum) bool {
	_, ok := g.Get(id)
	return ok
}

// Len returns the number of commits, root included.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.commits)
}

// Commits returns all commits with every parent ahead of its children.
func (g *Graph) Commits() []*Commit {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Commit, len(g.order))
	for i, id := range g.order {
		out[i] = g.commits[id]
	}
	return out
}

// TipIDs returns the current tip ids in ascending order.
func (g *Graph) TipIDs() []Sum {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.SortedFunc(maps.Keys(g.tips), CompareSums)
}

// Tips returns the current tips ordered by id.
func (g *Graph) Tips() []*Commit {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := slices.SortedFunc(maps.Keys(g.tips), CompareSums)
	out := make([]*Commit, len(ids))
	for i, id := range ids {
		out[i] = g.commits[id]
	}
	return out
}

// IsTip reports whether id is a current tip.
func (g *Graph) IsTip(id Sum) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.tips[id]
	return ok
}

func checkParents(parents []Sum) error {
	switch len(parents) {
	case 1:
	case 2:
		if parents[0] == parents[1] {
			return fmt.Errorf("%w: parent %s listed twice", ErrParentCount, parents[0].Short())
		}
	default:
		return fmt.Errorf("%w: %d parents", ErrParentCount, len(parents))
	}
	return nil
}

// Insert records state as a new commit descending from parents (one for an
// edit, two for a merge). If state is already recorded the returned error
// is a *DuplicateCommitError holding the existing commit. A failed insert
// leaves the graph untouched.
func (g *Graph) Insert(state *State, parents []Sum, meta Meta, ts time.Time) (*Commit, error) {
	if err := checkParents(parents); err != nil {
		return nil, err
	}
	id := state.Sum()
	if existing, ok := g.Get(id); ok {
		return nil, &DuplicateCommitError{Existing: existing}
	}
	for _, p := range parents {
		if p == id {
			return nil, ErrSelfParent
		}
		if !g.Has(p) {
			return nil, &UnknownParentError{Parent: p}
		}
	}
	base, err := g.StateAt(parents[0])
	if err != nil {
		return nil, err
	}
	c := &Commit{
		ID:        id,
		Parents:   slices.Clone(parents),
		Timestamp: ts.UTC(),
		Meta:      meta,
		Changes:   changesBetween(base, state),
	}
	if err := g.link(c); err != nil {
		return nil, err
	}
	g.remember(id, state.withParents(parents))
	return c, nil
}

// Add records a commit built elsewhere, typically decoded from storage.
// The commit's changes are replayed on its first parent and the result must
// hash to its id.
func (g *Graph) Add(c *Commit) error {
	if c.IsRoot() {
		if c.ID != g.root.ID {
			return &IntegrityError{Claimed: c.ID, Actual: g.root.ID}
		}
		return &DuplicateCommitError{Existing: g.root}
	}
	if err := checkParents(c.Parents); err != nil {
		return err
	}
	if existing, ok := g.Get(c.ID); ok {
		return &DuplicateCommitError{Existing: existing}
	}
	for _, p := range c.Parents {
		if p == c.ID {
			return ErrSelfParent
		}
		if !g.Has(p) {
			return &UnknownParentError{Parent: p}
		}
	}
	base, err := g.StateAt(c.Parents[0])
	if err != nil {
		return err
	}
	state, err := base.apply(c.Changes)
	if err != nil {
		return fmt.Errorf("%w: commit %s: %w", ErrIntegrity, c.ID.Short(), err)
	}
	if actual := state.Sum(); actual != c.ID {
		return &IntegrityError{Claimed: c.ID, Actual: actual}
	}
	stored := *c
	stored.Parents = slices.Clone(c.Parents)
	stored.Changes = slices.Clone(c.Changes)
	if err := g.link(&stored); err != nil {
		return err
	}
	g.remember(c.ID, state.withParents(c.Parents))
	return nil
}

// Load adds commits given in any order. Commits whose parents are not known
// yet are deferred and retried once others have been added; commits already
// present are skipped. It returns the number of commits added. If some
// commits can never be placed the error wraps ErrUnknownParent.
func (g *Graph) Load(commits []*Commit) (int, error) {
	pending := commits
	added := 0
	for len(pending) > 0 {
		var deferred []*Commit
		var missing error
		for _, c := range pending {
			err := g.Add(c)
			switch {
			case err == nil:
				added++
			case errors.Is(err, ErrDuplicateCommit):
			case errors.Is(err, ErrUnknownParent):
				deferred = append(deferred, c)
				missing = err
			default:
				return added, fmt.Errorf("load commit %s: %w", c.ID.Short(), err)
			}
		}
		if len(deferred) == len(pending) {
			return added, fmt.Errorf("load: %d commits unreachable: %w", len(deferred), missing)
		}
		pending = deferred
	}
	return added, nil
}

// link stores c and moves the tip set forward under the write lock,
// re-checking what Insert and Add checked without it.
func (g *Graph) link(c *Commit) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.commits[c.ID]; ok {
		return &DuplicateCommitError{Existing: existing}
	}
	for _, p := range c.Parents {
		if _, ok := g.commits[p]; !ok {
			return &UnknownParentError{Parent: p}
		}
	}
	g.commits[c.ID] = c
	g.order = append(g.order, c.ID)
	for _, p := range c.Parents {
		delete(g.tips, p)
	}
	g.tips[c.ID] = struct{}{}
	return nil
}

// adopt makes the known commit id a tip in place of replaced, which are
// dropped if they are tips. It reports whether the tip set changed.
func (g *Graph) adopt(id Sum, replaced ...Sum) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.commits[id]; !ok {
		return false
	}
	changed := false
	for _, r := range replaced {
		if _, ok := g.tips[r]; ok && r != id {
			delete(g.tips, r)
			changed = true
		}
	}
	if _, ok := g.tips[id]; !ok {
		g.tips[id] = struct{}{}
		changed = true
	}
	return changed
}

// RestoreTips replaces the tip set with tips, then advances it over newer
// commits in order the way inserting them would have. Unknown ids are
// skipped. If nothing known remains the tip set is left alone and false is
// returned.
func (g *Graph) RestoreTips(tips, newer []Sum) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := make(map[Sum]struct{}, len(tips))
	for _, id := range tips {
		if _, ok := g.commits[id]; ok {
			set[id] = struct{}{}
		}
	}
	if len(set) == 0 {
		return false
	}
	for _, id := range newer {
		c, ok := g.commits[id]
		if !ok {
			continue
		}
		for _, p := range c.Parents {
			delete(set, p)
		}
		set[id] = struct{}{}
	}
	g.tips = set
	return true
}

func (g *Graph) remember(id Sum, s *State) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	g.states[id] = s
}

func (g *Graph) cached(id Sum) (*State, bool) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	s, ok := g.states[id]
	return s, ok
}

// StateAt reconstructs the state produced by commit id.
func (g *Graph) StateAt(id Sum) (*State, error) {
	return g.StateAtContext(context.Background(), id)
}

// StateAtContext reconstructs the state produced by commit id, replaying
// first-parent deltas forward from the nearest memoized state. Every
// replayed state is memoized. ctx is checked between commits only.
func (g *Graph) StateAtContext(ctx context.Context, id Sum) (*State, error) {
	if s, ok := g.cached(id); ok {
		return s, nil
	}

	var chain []*Commit
	var base *State
	for cur := id; ; {
		if s, ok := g.cached(cur); ok {
			base = s
			break
		}
		c, ok := g.Get(cur)
		if !ok {
			return nil, fmt.Errorf("state at %s: %w", cur.Short(), ErrUnknownCommit)
		}
		chain = append(chain, c)
		parent, ok := c.FirstParent()
		if !ok {
			base = EmptyState()
			break
		}
		cur = parent
	}

	for i := len(chain) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := chain[i]
		next, err := base.apply(c.Changes)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", c.ID.Short(), err)
		}
		base = next.withParents(c.Parents)
		g.remember(c.ID, base)
	}
	return base, nil
}

// Forget drops memoized states except the root's. Later StateAt calls
// replay from the root again.
func (g *Graph) Forget() {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	root := g.states[g.root.ID]
	g.states = map[Sum]*State{g.root.ID: root}
}
