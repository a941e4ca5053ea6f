package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/partstore/internal/dag"
)

func elt(id, payload string) dag.Element {
	return dag.NewElement(dag.ElementID(id), []byte(payload), dag.Metadata{"kind": "note"})
}

func openRepo(t *testing.T, b Backend, policy SnapshotPolicy) *Repository {
	t.Helper()
	clock := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r, err := Open(Options{
		Backend: b,
		Logger:  quietLogger(),
		Author:  "did:key:ztest",
		Policy:  policy,
		Clock: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
	})
	require.NoError(t, err)
	return r
}

func TestCommitCodecRoundTrip(t *testing.T) {
	p := dag.NewPartition("notes", dag.WithLogger(quietLogger()))
	base, err := p.Commit(dag.NewState(elt("x", "1")), dag.Meta{Author: "a", Message: "base"})
	require.NoError(t, err)
	a, err := p.Commit(dag.NewState(elt("x", "2")), dag.Meta{})
	require.NoError(t, err)
	b, err := p.CommitOn(base.ID, dag.NewState(elt("x", "3")), dag.Meta{})
	require.NoError(t, err)
	res, err := p.Merge(a.ID, b.ID, dag.Meta{Message: "merge"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Conflicts)

	for _, c := range p.Graph().Commits()[1:] {
		data, err := EncodeCommit(c)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "\n")

		got, err := DecodeCommit(data)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, c.Parents, got.Parents, "parent order is preserved")
		assert.True(t, c.Timestamp.Equal(got.Timestamp))
		assert.Equal(t, c.Meta, got.Meta)
		assert.Equal(t, c.Changes, got.Changes)
	}

	// Decoded commits rebuild the same graph.
	q := dag.NewPartition("notes", dag.WithLogger(quietLogger()))
	var decoded []*dag.Commit
	for _, c := range p.Graph().Commits() {
		data, _ := EncodeCommit(c)
		d, err := DecodeCommit(data)
		require.NoError(t, err)
		decoded = append(decoded, d)
	}
	_, err = q.Load(decoded)
	require.NoError(t, err)
	assert.Equal(t, p.Graph().TipIDs(), q.Graph().TipIDs())
}

func TestDecodeCommitRejectsGarbage(t *testing.T) {
	_, err := DecodeCommit([]byte(`{"v":2}`))
	assert.Error(t, err)
	_, err = DecodeCommit([]byte(`{"v":1,"id":"nope"}`))
	assert.Error(t, err)
	_, err = DecodeCommit([]byte(`{"v":1,"id"`))
	assert.Error(t, err)
}

func TestRepositoryLifecycle(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := openRepo(t, b, SnapshotPolicy{})
			p, err := r.Create("notes")
			require.NoError(t, err)
			_, err = r.Create("notes")
			assert.ErrorIs(t, err, ErrPartitionExists)
			_, err = r.Create("bad/name")
			assert.Error(t, err)

			c1, err := p.Commit(dag.NewState(elt("a", "1")), dag.Meta{})
			require.NoError(t, err)
			assert.Equal(t, "did:key:ztest", c1.Meta.Author)
			_, err = p.Commit(dag.NewState(elt("a", "1"), elt("b", "2")), dag.Meta{})
			require.NoError(t, err)

			assert.ErrorIs(t, r.Unload("notes", false), ErrUnsaved)
			require.NoError(t, r.Save("notes"))
			require.NoError(t, r.Unload("notes", false))
			assert.Empty(t, r.Loaded())

			names, err := r.Partitions()
			require.NoError(t, err)
			assert.Equal(t, []string{"notes"}, names)

			again, err := r.Partition("notes")
			require.NoError(t, err)
			want, _ := p.State()
			got, err := again.State()
			require.NoError(t, err)
			assert.True(t, want.Equal(got))
			assert.False(t, again.HasUnsaved())

			_, err = r.Partition("missing")
			assert.ErrorIs(t, err, ErrNoPartition)
		})
	}
}

func TestRepositoryForceUnloadDropsWork(t *testing.T) {
	b, err := OpenFileBackend(t.TempDir())
	require.NoError(t, err)
	r := openRepo(t, b, SnapshotPolicy{})
	p, err := r.Create("notes")
	require.NoError(t, err)
	_, err = p.Commit(dag.NewState(elt("a", "1")), dag.Meta{})
	require.NoError(t, err)

	require.NoError(t, r.Unload("notes", true))
	again, err := r.Partition("notes")
	require.NoError(t, err)
	s, err := again.State()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestRepositorySnapshotCompactsJournal(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			policy := SnapshotPolicy{CommitWeight: 5, Threshold: 12}
			r := openRepo(t, b, policy)
			p, err := r.Create("notes")
			require.NoError(t, err)

			s := dag.EmptyState()
			for i, v := range []string{"1", "2", "3"} {
				s = s.With(elt(v, v))
				_, err := p.Commit(s, dag.Meta{})
				require.NoError(t, err)
				require.NoError(t, r.Save("notes"), "save %d", i)
			}

			// Three commits weigh 15 + 3 edits, past the threshold.
			entries, err := b.ReadJournal("notes")
			require.NoError(t, err)
			assert.Empty(t, entries)
			snap, err := ReadSnapshot(b, "notes")
			require.NoError(t, err)
			assert.Len(t, snap, 3)

			s = s.With(elt("4", "4"))
			_, err = p.Commit(s, dag.Meta{})
			require.NoError(t, err)
			require.NoError(t, r.Save("notes"))
			entries, _ = b.ReadJournal("notes")
			assert.Len(t, entries, 1)

			require.NoError(t, r.Unload("notes", false))
			again, err := r.Partition("notes")
			require.NoError(t, err)
			got, err := again.State()
			require.NoError(t, err)
			assert.True(t, s.Equal(got))
			assert.Equal(t, 5, again.Graph().Len())
		})
	}
}

func TestRepositorySkipsTornJournalLine(t *testing.T) {
	b, err := OpenFileBackend(t.TempDir())
	require.NoError(t, err)
	r := openRepo(t, b, SnapshotPolicy{})
	p, err := r.Create("notes")
	require.NoError(t, err)
	_, err = p.Commit(dag.NewState(elt("a", "1")), dag.Meta{})
	require.NoError(t, err)
	require.NoError(t, r.Save("notes"))
	require.NoError(t, b.AppendJournal("notes", []byte(`{"v":1,"id":"bafk`)))

	r2 := openRepo(t, b, SnapshotPolicy{})
	again, err := r2.Partition("notes")
	require.NoError(t, err)
	s, err := again.State()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestRepositoryMergeRequired(t *testing.T) {
	b, err := OpenFileBackend(t.TempDir())
	require.NoError(t, err)
	r := openRepo(t, b, SnapshotPolicy{})
	p, err := r.Create("notes")
	require.NoError(t, err)
	_, err = r.Create("other")
	require.NoError(t, err)

	base, _ := p.Commit(dag.NewState(elt("a", "1")), dag.Meta{})
	_, _ = p.Commit(dag.NewState(elt("a", "2")), dag.Meta{})
	_, _ = p.CommitOn(base.ID, dag.NewState(elt("a", "3")), dag.Meta{})
	assert.Equal(t, []string{"notes"}, r.MergeRequired())

	require.NoError(t, r.Close())
}

func TestRepositoryPersistsAdoptedTips(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := openRepo(t, b, SnapshotPolicy{})
			p, err := r.Create("notes")
			require.NoError(t, err)
			c0, err := p.Commit(dag.NewState(elt("x", "1")), dag.Meta{})
			require.NoError(t, err)
			c1, err := p.Commit(dag.NewState(elt("x", "1"), elt("y", "1"), elt("z", "1")), dag.Meta{})
			require.NoError(t, err)
			_, err = p.CommitOn(c1.ID, dag.NewState(elt("x", "1"), elt("z", "1")), dag.Meta{})
			require.NoError(t, err)
			_, err = p.CommitOn(c1.ID, dag.NewState(elt("x", "1"), elt("y", "1")), dag.Meta{})
			require.NoError(t, err)
			require.NoError(t, r.Save("notes"))

			// The merge lands on c0 and creates no commit.
			results, err := p.MergeAll(dag.Meta{})
			require.NoError(t, err)
			require.Len(t, results, 1)
			require.False(t, results[0].Created())
			assert.ErrorIs(t, r.Unload("notes", false), ErrUnsaved)
			require.NoError(t, r.Save("notes"))
			require.NoError(t, r.Unload("notes", false))

			again, err := r.Partition("notes")
			require.NoError(t, err)
			assert.Equal(t, []dag.Sum{c0.ID}, again.Graph().TipIDs())
			assert.False(t, again.MergeRequired())

			// Work on the adopted tip survives another round trip.
			next, err := again.Commit(dag.NewState(elt("x", "2")), dag.Meta{})
			require.NoError(t, err)
			require.NoError(t, r.Save("notes"))
			require.NoError(t, r.Unload("notes", false))
			third, err := r.Partition("notes")
			require.NoError(t, err)
			assert.Equal(t, []dag.Sum{next.ID}, third.Graph().TipIDs())
		})
	}
}

func TestRepositoryTipsAdvanceOverLaterJournal(t *testing.T) {
	b, err := OpenFileBackend(t.TempDir())
	require.NoError(t, err)
	r := openRepo(t, b, SnapshotPolicy{})
	p, err := r.Create("notes")
	require.NoError(t, err)
	c1, err := p.Commit(dag.NewState(elt("a", "1")), dag.Meta{})
	require.NoError(t, err)
	_, err = p.Commit(dag.NewState(elt("a", "2")), dag.Meta{})
	require.NoError(t, err)
	_, err = p.Commit(dag.NewState(elt("a", "1")), dag.Meta{})
	require.NoError(t, err)
	require.NoError(t, r.Save("notes"))

	// A commit journaled without its tips record, as after a crash
	// between the two writes.
	c3, err := p.Commit(dag.NewState(elt("a", "1"), elt("b", "1")), dag.Meta{})
	require.NoError(t, err)
	require.Equal(t, []dag.Sum{c1.ID}, c3.Parents)
	enc, err := EncodeCommit(c3)
	require.NoError(t, err)
	require.NoError(t, b.AppendJournal("notes", enc))

	r2 := openRepo(t, b, SnapshotPolicy{})
	again, err := r2.Partition("notes")
	require.NoError(t, err)
	assert.Equal(t, []dag.Sum{c3.ID}, again.Graph().TipIDs())
}

func TestRepositoryTipsSurviveSnapshot(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := openRepo(t, b, SnapshotPolicy{CommitWeight: 5, Threshold: 12})
			p, err := r.Create("notes")
			require.NoError(t, err)
			c1, err := p.Commit(dag.NewState(elt("a", "1")), dag.Meta{})
			require.NoError(t, err)
			_, err = p.Commit(dag.NewState(elt("a", "2")), dag.Meta{})
			require.NoError(t, err)
			_, err = p.Commit(dag.NewState(elt("a", "3")), dag.Meta{})
			require.NoError(t, err)
			back, err := p.Commit(dag.NewState(elt("a", "1")), dag.Meta{})
			require.NoError(t, err)
			require.Equal(t, c1.ID, back.ID)
			require.NoError(t, r.Save("notes"))

			entries, err := b.ReadJournal("notes")
			require.NoError(t, err)
			require.Empty(t, entries, "snapshot taken")
			require.NoError(t, r.Unload("notes", false))

			again, err := r.Partition("notes")
			require.NoError(t, err)
			assert.Equal(t, []dag.Sum{c1.ID}, again.Graph().TipIDs())
		})
	}
}

func TestFlusherSavesOnStop(t *testing.T) {
	b, err := OpenFileBackend(t.TempDir())
	require.NoError(t, err)
	r := openRepo(t, b, SnapshotPolicy{})
	p, err := r.Create("notes")
	require.NoError(t, err)

	f := NewFlusher(r, time.Hour)
	f.Start()
	_, err = p.Commit(dag.NewState(elt("a", "1")), dag.Meta{})
	require.NoError(t, err)
	require.NoError(t, f.Stop())

	assert.False(t, p.HasUnsaved())
	entries, err := b.ReadJournal("notes")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSnapshotPolicy(t *testing.T) {
	assert.False(t, DefaultSnapshotPolicy.Due(30, 0))
	assert.True(t, DefaultSnapshotPolicy.Due(30, 1))
	assert.False(t, SnapshotPolicy{}.Due(1000, 1000))
}

func TestNewElementIDSorted(t *testing.T) {
	a := NewElementID()
	b := NewElementID()
	assert.Len(t, string(a), 26)
	assert.Less(t, string(a), string(b))
}
