package dag

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func insert(t *testing.T, g *Graph, s *State, parents ...Sum) *Commit {
	t.Helper()
	c, err := g.Insert(s, parents, Meta{Author: "test"}, t0)
	require.NoError(t, err)
	return c
}

func TestNewGraphRoot(t *testing.T) {
	g := NewGraph()
	root := g.Root()
	assert.True(t, root.IsRoot())
	assert.Equal(t, EmptyState().Sum(), root.ID)
	assert.Equal(t, []Sum{root.ID}, g.TipIDs())
	assert.Equal(t, 1, g.Len())

	s, err := g.StateAt(root.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestInsertStateAtRoundTrip(t *testing.T) {
	g := NewGraph()
	s1 := NewState(elt("a", "1"), elt("b", "1"))
	c1 := insert(t, g, s1, g.Root().ID)
	assert.Equal(t, s1.Sum(), c1.ID)
	assert.Equal(t, []Sum{g.Root().ID}, c1.Parents)

	s2 := s1.Without("a").With(elt("c", "1"))
	c2 := insert(t, g, s2, c1.ID)

	got, err := g.StateAt(c2.ID)
	require.NoError(t, err)
	assert.True(t, s2.Equal(got))
	assert.Equal(t, []Sum{c1.ID}, got.Parents())

	// A cold graph replays the same state from the root.
	g.Forget()
	got, err = g.StateAt(c2.ID)
	require.NoError(t, err)
	assert.True(t, s2.Equal(got))
	assert.Equal(t, c2.ID, got.Sum())
}

func TestInsertUpdatesTips(t *testing.T) {
	g := NewGraph()
	root := g.Root().ID
	a := insert(t, g, NewState(elt("x", "a")), root)
	assert.Equal(t, []Sum{a.ID}, g.TipIDs())

	b := insert(t, g, NewState(elt("x", "b")), root)
	assert.ElementsMatch(t, []Sum{a.ID, b.ID}, g.TipIDs())
	assert.True(t, g.IsTip(a.ID))
	assert.False(t, g.IsTip(root))

	m := insert(t, g, NewState(elt("x", "m")), a.ID, b.ID)
	assert.Equal(t, []Sum{m.ID}, g.TipIDs())
	assert.True(t, m.IsMerge())
}

func TestInsertDuplicate(t *testing.T) {
	g := NewGraph()
	s := NewState(elt("a", "1"))
	c := insert(t, g, s, g.Root().ID)

	_, err := g.Insert(NewState(elt("a", "1")), []Sum{g.Root().ID}, Meta{}, t0)
	require.ErrorIs(t, err, ErrDuplicateCommit)
	var dup *DuplicateCommitError
	require.True(t, errors.As(err, &dup))
	assert.Same(t, c, dup.Existing)
	assert.Equal(t, 2, g.Len())
}

func TestInsertUnknownParent(t *testing.T) {
	g := NewGraph()
	ghost := NewState(elt("ghost", "1")).Sum()
	_, err := g.Insert(NewState(elt("a", "1")), []Sum{ghost}, Meta{}, t0)
	require.ErrorIs(t, err, ErrUnknownParent)
	var unknown *UnknownParentError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, ghost, unknown.Parent)

	// Nothing changed.
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, []Sum{g.Root().ID}, g.TipIDs())
}

func TestInsertRejectsBadParentLists(t *testing.T) {
	g := NewGraph()
	root := g.Root().ID
	s := NewState(elt("a", "1"))

	_, err := g.Insert(s, nil, Meta{}, t0)
	assert.ErrorIs(t, err, ErrParentCount)
	_, err = g.Insert(s, []Sum{root, root}, Meta{}, t0)
	assert.ErrorIs(t, err, ErrParentCount)

	a := insert(t, g, s, root)
	_, err = g.Insert(NewState(elt("b", "1")), []Sum{root, a.ID, a.ID}, Meta{}, t0)
	assert.ErrorIs(t, err, ErrParentCount)

	_, err = g.Insert(NewState(elt("z", "1")), []Sum{NewState(elt("z", "1")).Sum()}, Meta{}, t0)
	assert.ErrorIs(t, err, ErrSelfParent)
}

func TestAncestorsIncludesStart(t *testing.T) {
	g := NewGraph()
	root := g.Root().ID
	a := insert(t, g, NewState(elt("x", "a")), root)
	b := insert(t, g, NewState(elt("x", "b")), root)
	m := insert(t, g, NewState(elt("x", "m")), a.ID, b.ID)

	var ids []Sum
	for c := range g.Ancestors(m.ID) {
		ids = append(ids, c.ID)
	}
	require.Len(t, ids, 4)
	assert.Equal(t, m.ID, ids[0])
	assert.Equal(t, root, ids[3])
	assert.ElementsMatch(t, []Sum{a.ID, b.ID}, ids[1:3])

	// Restartable.
	var again []Sum
	for c := range g.Ancestors(m.ID) {
		again = append(again, c.ID)
	}
	assert.Equal(t, ids, again)

	// Early stop.
	n := 0
	for range g.Ancestors(m.ID) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestIsAncestorIsStrict(t *testing.T) {
	g := NewGraph()
	root := g.Root().ID
	a := insert(t, g, NewState(elt("x", "a")), root)
	b := insert(t, g, NewState(elt("x", "b")), a.ID)

	assert.False(t, g.IsAncestor(a.ID, a.ID))
	assert.True(t, g.IsAncestor(root, b.ID))
	assert.True(t, g.IsAncestor(a.ID, b.ID))
	assert.False(t, g.IsAncestor(b.ID, a.ID))
}

func TestCommonAncestor(t *testing.T) {
	g := NewGraph()
	root := g.Root().ID
	base := insert(t, g, NewState(elt("x", "1")), root)
	a := insert(t, g, NewState(elt("x", "a")), base.ID)
	b1 := insert(t, g, NewState(elt("x", "b1")), base.ID)
	b2 := insert(t, g, NewState(elt("x", "b2")), b1.ID)

	lca, err := g.CommonAncestor(a.ID, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, base.ID, lca.ID)

	lca, err = g.CommonAncestor(b2.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, base.ID, lca.ID)

	lca, err = g.CommonAncestor(b1.ID, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, b1.ID, lca.ID)

	_, err = g.CommonAncestor(a.ID, NewState(elt("nope", "")).Sum())
	assert.ErrorIs(t, err, ErrUnknownCommit)
}

func TestCommonAncestorCrissCross(t *testing.T) {
	// Two merges of the same pair in opposite order leave two lowest
	// common ancestors, p and q.
	g := NewGraph()
	root := g.Root().ID
	p := insert(t, g, NewState(elt("x", "p")), root)
	q := insert(t, g, NewState(elt("x", "q")), root)
	m1 := insert(t, g, NewState(elt("x", "m1")), p.ID, q.ID)
	m2 := insert(t, g, NewState(elt("x", "m2")), q.ID, p.ID)
	a := insert(t, g, NewState(elt("x", "a")), m1.ID)

	lca, err := g.CommonAncestor(a.ID, m2.ID)
	require.NoError(t, err)
	want := p.ID
	if q.ID.Compare(p.ID) < 0 {
		want = q.ID
	}
	assert.Equal(t, want, lca.ID, "equal distance resolves to the smaller id")

	rev, err := g.CommonAncestor(m2.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, lca.ID, rev.ID)
}

func TestCommonAncestorPrefersFewerEdges(t *testing.T) {
	g := NewGraph()
	root := g.Root().ID
	p := insert(t, g, NewState(elt("x", "p")), root)
	q := insert(t, g, NewState(elt("x", "q")), root)
	q2 := insert(t, g, NewState(elt("x", "q2")), q.ID)
	m1 := insert(t, g, NewState(elt("x", "m1")), p.ID, q2.ID)
	m2 := insert(t, g, NewState(elt("x", "m2")), p.ID, q2.ID)

	// p and q2 are both one edge from each merge; q is below q2.
	lca, err := g.CommonAncestor(m1.ID, m2.ID)
	require.NoError(t, err)
	assert.Contains(t, []Sum{p.ID, q2.ID}, lca.ID)
	assert.NotEqual(t, q.ID, lca.ID)

	// One more edge on p's side makes q2 strictly closer.
	p2 := insert(t, g, NewState(elt("x", "p2")), p.ID)
	n1 := insert(t, g, NewState(elt("x", "n1")), p2.ID, q2.ID)
	n2 := insert(t, g, NewState(elt("x", "n2")), p.ID, q2.ID)
	lca, err = g.CommonAncestor(n1.ID, n2.ID)
	require.NoError(t, err)
	assert.Equal(t, q2.ID, lca.ID)
}

func TestLoadAnyOrder(t *testing.T) {
	src := NewGraph()
	root := src.Root().ID
	a := insert(t, src, NewState(elt("x", "a")), root)
	b := insert(t, src, NewState(elt("x", "b"), elt("y", "1")), a.ID)
	c := insert(t, src, NewState(elt("x", "c")), a.ID)
	m := insert(t, src, NewState(elt("x", "c"), elt("y", "1")), b.ID, c.ID)

	commits := src.Commits()
	slices.Reverse(commits)

	dst := NewGraph()
	n, err := dst.Load(commits)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []Sum{m.ID}, dst.TipIDs())

	s, err := dst.StateAt(m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, s.Sum())

	// Loading again adds nothing.
	n, err = dst.Load(commits)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadMissingParent(t *testing.T) {
	src := NewGraph()
	a := insert(t, src, NewState(elt("x", "a")), src.Root().ID)
	b := insert(t, src, NewState(elt("x", "b")), a.ID)

	dst := NewGraph()
	_, err := dst.Load([]*Commit{b})
	assert.ErrorIs(t, err, ErrUnknownParent)
	assert.Equal(t, 1, dst.Len())
}

func TestAddDetectsTampering(t *testing.T) {
	src := NewGraph()
	a := insert(t, src, NewState(elt("x", "a")), src.Root().ID)

	forged := *a
	e := elt("x", "evil")
	forged.Changes = []Change{{Kind: ChangeInsert, ID: "x", Element: &e}}

	dst := NewGraph()
	err := dst.Add(&forged)
	require.ErrorIs(t, err, ErrIntegrity)
	var integrity *IntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, a.ID, integrity.Claimed)
	assert.False(t, dst.Has(a.ID))
}

func TestRestoreTips(t *testing.T) {
	g := NewGraph()
	a := insert(t, g, NewState(elt("x", "1")), g.Root().ID)
	b := insert(t, g, NewState(elt("x", "2")), a.ID)
	c := insert(t, g, NewState(elt("x", "3")), a.ID)
	require.Len(t, g.TipIDs(), 2)

	// a was the tip when c was added on top of it.
	require.True(t, g.RestoreTips([]Sum{a.ID}, []Sum{c.ID}))
	assert.Equal(t, []Sum{c.ID}, g.TipIDs())

	require.True(t, g.RestoreTips([]Sum{b.ID, {}}, nil))
	assert.Equal(t, []Sum{b.ID}, g.TipIDs())

	assert.False(t, g.RestoreTips([]Sum{{}}, []Sum{c.ID}))
	assert.Equal(t, []Sum{b.ID}, g.TipIDs())
}

func TestStateAtContextCancelled(t *testing.T) {
	g := NewGraph()
	c := insert(t, g, NewState(elt("x", "a")), g.Root().ID)
	g.Forget()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.StateAtContext(ctx, c.ID)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = g.StateAt(NewState(elt("nope", "")).Sum())
	assert.ErrorIs(t, err, ErrUnknownCommit)
}

func TestMatchSum(t *testing.T) {
	g := NewGraph()
	c := insert(t, g, NewState(elt("x", "a")), g.Root().ID)

	got, err := g.MatchSum(c.ID.String())
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	got, err = g.MatchSum(c.ID.Short())
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	got, err = g.MatchSum(c.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	// Every CIDv1 string shares its leading characters.
	_, err = g.MatchSum("bafkrei")
	assert.ErrorIs(t, err, ErrAmbiguousPrefix)

	_, err = g.MatchSum("zzzz")
	assert.ErrorIs(t, err, ErrUnknownCommit)
}
