package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/systemshift/partstore/internal/dag"
)

const snapshotNamespace = "snapshots"

// SnapshotPolicy decides when a partition's journal is folded into a
// compressed snapshot. Every commit since the last snapshot weighs
// CommitWeight, every element change weighs one; a snapshot is due once
// the total exceeds Threshold. A zero Threshold disables snapshots.
type SnapshotPolicy struct {
	CommitWeight int
	Threshold    int
}

// DefaultSnapshotPolicy matches a journal of roughly thirty small commits.
var DefaultSnapshotPolicy = SnapshotPolicy{CommitWeight: 5, Threshold: 150}

// Due reports whether a snapshot should be written.
func (p SnapshotPolicy) Due(commits, edits int) bool {
	if p.Threshold <= 0 {
		return false
	}
	return commits*p.CommitWeight+edits > p.Threshold
}

type snapshotFile struct {
	V         int               `json:"v"`
	Partition string            `json:"partition"`
	Commits   []json.RawMessage `json:"commits"`
}

// WriteSnapshot stores every commit of p except the root as one
// zstd-compressed object, points the partition's snapshot ref at it and
// empties the journal. A crash between the last two steps leaves commits
// in both places, which loading tolerates.
func WriteSnapshot(b Backend, p *dag.Partition) error {
	snap := snapshotFile{
		V:         1,
		Partition: p.Name(),
	}
	for _, c := range p.Graph().Commits() {
		if c.IsRoot() {
			continue
		}
		enc, err := EncodeCommit(c)
		if err != nil {
			return err
		}
		snap.Commits = append(snap.Commits, enc)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	compressed, err := compress(data)
	if err != nil {
		return err
	}
	c, err := b.Put(compressed)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if err := b.SetRef(snapshotNamespace+"/"+p.Name(), c); err != nil {
		return fmt.Errorf("set snapshot ref: %w", err)
	}
	return b.ResetJournal(p.Name())
}

// ReadSnapshot returns the commits of the partition's latest snapshot, or
// nil if it has none.
func ReadSnapshot(b Backend, partition string) ([]*dag.Commit, error) {
	c, err := b.GetRef(snapshotNamespace + "/" + partition)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	compressed, err := b.Get(c)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	data, err := decompress(compressed)
	if err != nil {
		return nil, err
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Partition != partition {
		return nil, fmt.Errorf("snapshot %s belongs to partition %q", EncodeCID(c), snap.Partition)
	}
	commits := make([]*dag.Commit, 0, len(snap.Commits))
	for _, raw := range snap.Commits {
		commit, err := DecodeCommit(raw)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", EncodeCID(c), err)
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	out := enc.EncodeAll(data, nil)
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close zstd encoder: %w", err)
	}
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return out, nil
}
