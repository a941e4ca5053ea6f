package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/systemshift/partstore/internal/dag"
)

const tipsNamespace = "tips"

// tipsRecord is the tip set of a partition as of its latest save. After is
// the last journaled commit at that time; journal entries past it are
// newer than the record.
type tipsRecord struct {
	V         int       `json:"v"`
	Partition string    `json:"partition"`
	Tips      []dag.Sum `json:"tips"`
	After     *dag.Sum  `json:"after,omitempty"`
}

// WriteTips stores the current tips of p and points the partition's tips
// ref at them.
func WriteTips(b Backend, p *dag.Partition, after dag.Sum) error {
	rec := tipsRecord{
		V:         1,
		Partition: p.Name(),
		Tips:      p.Graph().TipIDs(),
	}
	if !after.IsZero() {
		rec.After = &after
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode tips: %w", err)
	}
	c, err := b.Put(data)
	if err != nil {
		return fmt.Errorf("store tips: %w", err)
	}
	if err := b.SetRef(tipsNamespace+"/"+p.Name(), c); err != nil {
		return fmt.Errorf("set tips ref: %w", err)
	}
	return nil
}

// readTips returns the partition's recorded tips, or nil if it has none.
func readTips(b Backend, partition string) (*tipsRecord, error) {
	c, err := b.GetRef(tipsNamespace + "/" + partition)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := b.Get(c)
	if err != nil {
		return nil, fmt.Errorf("read tips: %w", err)
	}
	var rec tipsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode tips: %w", err)
	}
	if rec.Partition != partition {
		return nil, fmt.Errorf("tips %s belong to partition %q", EncodeCID(c), rec.Partition)
	}
	return &rec, nil
}

// newerThan returns the journaled ids past the last occurrence of rec.After.
// If After is not in the journal the record predates all of it.
func (rec *tipsRecord) newerThan(journaled []dag.Sum) []dag.Sum {
	if rec.After == nil {
		return journaled
	}
	for i := len(journaled) - 1; i >= 0; i-- {
		if journaled[i] == *rec.After {
			return journaled[i+1:]
		}
	}
	return journaled
}
