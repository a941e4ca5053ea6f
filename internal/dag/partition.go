package dag

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Partition is one independently versioned shard: a commit graph plus the
// bookkeeping needed to commit, merge and hand new commits to storage.
// All mutating methods are serialized by the partition's lock.
type Partition struct {
	mu      sync.Mutex
	name    string
	graph   *Graph
	merger  *Merger
	solver  Solver
	log     logrus.FieldLogger
	now     func() time.Time
	author  string
	unsaved []Sum
	// moved is set when the tip set changed without a new commit.
	moved bool
}

// Option configures a Partition.
type Option func(*Partition)

// WithSolver sets the conflict solver used by merges.
func WithSolver(s Solver) Option {
	return func(p *Partition) { p.solver = s }
}

// WithLogger sets the logger. Entries carry a partition field.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Partition) { p.log = l }
}

// WithClock sets the source of commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Partition) { p.now = now }
}

// WithAuthor sets the author stamped on commits whose Meta has none.
func WithAuthor(author string) Option {
	return func(p *Partition) { p.author = author }
}

// NewPartition returns an empty partition holding only the root commit.
func NewPartition(name string, opts ...Option) *Partition {
	p := &Partition{
		name:   name,
		graph:  NewGraph(),
		solver: KeepBoth,
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("partition", name)
	p.merger = NewMerger(p.graph, p.solver, p.log)
	return p
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// Graph returns the partition's commit graph.
func (p *Partition) Graph() *Graph { return p.graph }

// Tips returns the current heads ordered by id.
func (p *Partition) Tips() []*Commit { return p.graph.Tips() }

// MergeRequired reports whether history has diverged.
func (p *Partition) MergeRequired() bool {
	return len(p.graph.TipIDs()) > 1
}

// Tip returns the single head, or ErrMultipleTips.
func (p *Partition) Tip() (*Commit, error) {
	tips := p.graph.Tips()
	if len(tips) != 1 {
		return nil, fmt.Errorf("partition %s: %d tips: %w", p.name, len(tips), ErrMultipleTips)
	}
	return tips[0], nil
}

// State returns the state at the single head.
func (p *Partition) State() (*State, error) {
	tip, err := p.Tip()
	if err != nil {
		return nil, err
	}
	return p.graph.StateAt(tip.ID)
}

// StateAt returns the state produced by commit id.
func (p *Partition) StateAt(id Sum) (*State, error) {
	return p.graph.StateAt(id)
}

// Commit records state on top of the single head. An unchanged state
// returns the head itself. A state recorded earlier returns that commit,
// which becomes the head in place of the old one.
func (p *Partition) Commit(state *State, meta Meta) (*Commit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tip, err := p.Tip()
	if err != nil {
		return nil, err
	}
	return p.commitOn(tip.ID, state, meta)
}

// CommitOn records state on top of an arbitrary known commit, which need
// not be a tip. Committing on an older commit diverges history the way an
// out-of-date replica does.
func (p *Partition) CommitOn(parent Sum, state *State, meta Meta) (*Commit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commitOn(parent, state, meta)
}

func (p *Partition) commitOn(parent Sum, state *State, meta Meta) (*Commit, error) {
	prev, err := p.graph.StateAt(parent)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", p.name, err)
	}
	if prev.Equal(state) {
		c, _ := p.graph.Get(parent)
		return c, nil
	}
	if meta.Author == "" {
		meta.Author = p.author
	}
	c, err := p.graph.Insert(state, []Sum{parent}, meta, p.now())
	var dup *DuplicateCommitError
	switch {
	case errors.As(err, &dup):
		if p.graph.adopt(dup.Existing.ID, parent) {
			p.moved = true
		}
		p.log.WithField("commit", dup.Existing.ID.Short()).Debug("state already recorded")
		return dup.Existing, nil
	case err != nil:
		return nil, fmt.Errorf("partition %s: commit: %w", p.name, err)
	}
	p.unsaved = append(p.unsaved, c.ID)
	p.log.WithFields(logrus.Fields{
		"commit":  c.ID.Short(),
		"parents": parent.Short(),
		"changes": c.NumChanges(),
	}).Debug("committed")
	return c, nil
}

// Merge joins two current tips. Conflicts are part of the result.
func (p *Partition) Merge(a, b Sum, meta Meta) (*MergeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.merge(a, b, meta)
}

func (p *Partition) merge(a, b Sum, meta Meta) (*MergeResult, error) {
	for _, id := range []Sum{a, b} {
		if !p.graph.IsTip(id) {
			return nil, fmt.Errorf("partition %s: %s: %w", p.name, id.Short(), ErrNotATip)
		}
	}
	if meta.Author == "" {
		meta.Author = p.author
	}
	before := p.graph.TipIDs()
	res, err := p.merger.Merge(a, b, meta, p.now())
	if errors.Is(err, ErrNoCommonAncestor) {
		return nil, fmt.Errorf("partition %s: corrupt graph: %w", p.name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", p.name, err)
	}
	if res.Created() {
		p.unsaved = append(p.unsaved, res.Commit.ID)
	} else if !slices.Equal(before, p.graph.TipIDs()) {
		p.moved = true
	}
	if len(res.Conflicts) > 0 {
		p.log.WithFields(logrus.Fields{
			"commit":    res.Commit.ID.Short(),
			"conflicts": res.Conflicts,
		}).Info("merge left conflicts")
	}
	return res, nil
}

// MergeAll merges tips pairwise in id order until one remains and returns
// each step's result.
func (p *Partition) MergeAll(meta Meta) ([]*MergeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var results []*MergeResult
	for {
		tips := p.graph.TipIDs()
		if len(tips) < 2 {
			return results, nil
		}
		res, err := p.merge(tips[0], tips[1], meta)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if len(p.graph.TipIDs()) >= len(tips) {
			return results, fmt.Errorf("partition %s: merge of %s and %s made no progress", p.name, tips[0].Short(), tips[1].Short())
		}
	}
}

// Load adds persisted commits to the graph. They count as saved.
func (p *Partition) Load(commits []*Commit) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.graph.Load(commits)
	if err != nil {
		return n, fmt.Errorf("partition %s: %w", p.name, err)
	}
	p.log.WithFields(logrus.Fields{
		"loaded": n,
		"tips":   len(p.graph.TipIDs()),
	}).Debug("loaded commits")
	return n, nil
}

// RestoreTips reinstates a persisted tip set. newer lists commits loaded
// after that set was recorded, oldest first; they advance it the way
// committing them did.
func (p *Partition) RestoreTips(tips, newer []Sum) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.graph.RestoreTips(tips, newer) {
		p.log.WithField("tips", len(tips)).Warn("recorded tips unknown, keeping tips derived from history")
		return
	}
	p.log.WithField("tips", len(p.graph.TipIDs())).Debug("restored tips")
}

// Unsaved returns commits created since they were last marked saved, in
// creation order.
func (p *Partition) Unsaved() []*Commit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Commit, 0, len(p.unsaved))
	for _, id := range p.unsaved {
		if c, ok := p.graph.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// HasUnsaved reports whether any commit or tip move still awaits
// persistence.
func (p *Partition) HasUnsaved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.unsaved) > 0 || p.moved
}

// MarkSaved removes ids from the unsaved queue and clears any pending tip
// move.
func (p *Partition) MarkSaved(ids ...Sum) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moved = false
	p.unsaved = slices.DeleteFunc(p.unsaved, func(id Sum) bool {
		return slices.Contains(ids, id)
	})
}
