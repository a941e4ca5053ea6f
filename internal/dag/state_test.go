package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func elt(id, payload string) Element {
	return NewElement(ElementID(id), []byte(payload), nil)
}

func TestStateWithDoesNotMutate(t *testing.T) {
	s0 := NewState(elt("a", "1"))
	s1 := s0.With(elt("b", "2"))
	s2 := s1.With(elt("a", "changed"))

	assert.Equal(t, 1, s0.Len())
	assert.Equal(t, 2, s1.Len())
	a, _ := s1.Get("a")
	assert.Equal(t, "1", string(a.Payload))
	a, _ = s2.Get("a")
	assert.Equal(t, "changed", string(a.Payload))
}

func TestStateWithoutMissingIsNoop(t *testing.T) {
	s := NewState(elt("a", "1"))
	out := s.Without("zzz")
	assert.True(t, s.Equal(out))
	assert.Equal(t, s.Sum(), out.Sum())

	out = s.Without("a")
	assert.Equal(t, 0, out.Len())
	assert.True(t, s.Has("a"))
}

func TestStateGetReturnsCopy(t *testing.T) {
	s := NewState(NewElement("a", []byte("abc"), Metadata{"k": "v"}))
	e, ok := s.Get("a")
	require.True(t, ok)
	e.Payload[0] = 'X'
	e.Metadata["k"] = "mutated"

	again, _ := s.Get("a")
	assert.Equal(t, "abc", string(again.Payload))
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestDiff(t *testing.T) {
	base := NewState(elt("keep", "1"), elt("change", "1"), elt("drop", "1"))
	other := base.Without("drop").With(elt("change", "2")).With(elt("new", "1"))

	d := base.Diff(other)
	assert.Equal(t, []ElementID{"new"}, d.Added)
	assert.Equal(t, []ElementID{"drop"}, d.Removed)
	assert.Equal(t, []ElementID{"change"}, d.Changed)
	assert.Equal(t, 3, d.Len())

	rev := other.Diff(base)
	assert.Equal(t, d.Added, rev.Removed)
	assert.Equal(t, d.Removed, rev.Added)
	assert.Equal(t, d.Changed, rev.Changed)

	assert.True(t, base.Diff(base).Empty())
}

func TestDiffSeesMetadata(t *testing.T) {
	a := NewState(NewElement("x", []byte("p"), Metadata{"tag": "red"}))
	b := NewState(NewElement("x", []byte("p"), Metadata{"tag": "blue"}))
	assert.Equal(t, []ElementID{"x"}, a.Diff(b).Changed)
}

func TestMetadataNilEqualsEmpty(t *testing.T) {
	a := NewElement("x", []byte("p"), nil)
	b := NewElement("x", []byte("p"), Metadata{})
	assert.True(t, a.Equal(b))
	assert.Equal(t, NewState(a).Sum(), NewState(b).Sum())
}

func TestResolve(t *testing.T) {
	conflicted := Element{ID: "x", Candidates: []Version{
		{Payload: []byte("2")},
		{Payload: []byte("3")},
	}}
	s := NewState(conflicted, elt("y", "1"))
	assert.Equal(t, []ElementID{"x"}, s.Conflicts())

	out, err := s.Resolve("x", Version{Payload: []byte("3")})
	require.NoError(t, err)
	x, ok := out.Get("x")
	require.True(t, ok)
	assert.False(t, x.Conflicted())
	assert.Equal(t, "3", string(x.Payload))
	assert.Empty(t, out.Conflicts())

	out, err = s.Resolve("x", Version{Removed: true})
	require.NoError(t, err)
	assert.False(t, out.Has("x"))

	_, err = s.Resolve("y", Version{Payload: []byte("9")})
	assert.ErrorIs(t, err, ErrNotConflicted)
	_, err = s.Resolve("missing", Version{})
	assert.ErrorIs(t, err, ErrNotConflicted)
}

func TestApplyRoundTrip(t *testing.T) {
	from := NewState(elt("a", "1"), elt("b", "1"))
	to := from.Without("a").With(elt("b", "2")).With(elt("c", "1"))

	changes := changesBetween(from, to)
	require.Len(t, changes, 3)
	assert.Equal(t, ChangeDelete, changes[0].Kind)
	assert.Equal(t, ChangeReplace, changes[1].Kind)
	assert.Equal(t, ChangeInsert, changes[2].Kind)

	got, err := from.apply(changes)
	require.NoError(t, err)
	assert.True(t, to.Equal(got))
}

func TestApplyRejectsForeignDelta(t *testing.T) {
	s := NewState(elt("a", "1"))
	e := elt("a", "2")

	_, err := s.apply([]Change{{Kind: ChangeInsert, ID: "a", Element: &e}})
	assert.Error(t, err)
	_, err = s.apply([]Change{{Kind: ChangeDelete, ID: "b"}})
	assert.Error(t, err)
	_, err = s.apply([]Change{{Kind: ChangeReplace, ID: "b", Element: &e}})
	assert.Error(t, err)
	_, err = s.apply([]Change{{Kind: "rename", ID: "a"}})
	assert.Error(t, err)
}
