// Package store persists partitions: commit journals, snapshots and refs
// over a pluggable backend, and a Repository that owns loaded partitions.
package store

import (
	"errors"
	"fmt"
	"regexp"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// ErrNotFound is returned for missing objects and refs.
var ErrNotFound = errors.New("not found")

// Backend is the storage a Repository runs on. Objects are immutable and
// addressed by CID. Journals are append-only lists of entries per
// partition, read back in append order. Refs are mutable names pointing at
// objects; a ref name is a namespace and a key joined by '/'.
type Backend interface {
	Put(data []byte) (gocid.Cid, error)
	Get(c gocid.Cid) ([]byte, error)
	Has(c gocid.Cid) (bool, error)

	AppendJournal(partition string, entries ...[]byte) error
	ReadJournal(partition string) ([][]byte, error)
	ResetJournal(partition string) error

	SetRef(name string, c gocid.Cid) error
	GetRef(name string) (gocid.Cid, error)
	DeleteRef(name string) error
	ListRefs(namespace string) ([]string, error)

	Close() error
}

// ComputeCID computes a CIDv1 (raw codec, SHA2-256) for the given data.
func ComputeCID(data []byte) (gocid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return gocid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return gocid.NewCidV1(gocid.Raw, mh), nil
}

// EncodeCID returns the base32 multibase form of c, used for file names and
// ref values.
func EncodeCID(c gocid.Cid) string {
	encoded, _ := multibase.Encode(multibase.Base32, c.Bytes())
	return encoded
}

// DecodeCID parses the output of EncodeCID.
func DecodeCID(s string) (gocid.Cid, error) {
	_, cidBytes, err := multibase.Decode(s)
	if err != nil {
		return gocid.Undef, fmt.Errorf("decode CID: %w", err)
	}
	return gocid.Cast(cidBytes)
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidName reports whether name can be used as a partition name or ref key.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

func checkName(kind, name string) error {
	if !ValidName(name) {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}
