package dag

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm migration.
const (
	domainElement = "partstore/element/v1"
	domainVersion = "partstore/version/v1"
	domainState   = "partstore/state/v1"
)

// SumSize is the width of a Sum in bytes.
const SumSize = sha256.Size

// Sum is the SHA2-256 fingerprint of a State. It identifies the state and
// the commit producing it, and doubles as a tamper check on load.
type Sum [SumSize]byte

// StateSum returns the sum of s. It depends only on the elements of s, never
// on the order they were inserted in.
func StateSum(s *State) Sum {
	return s.Sum()
}

// hashWithDomain computes SHA256(domain + 0x00 + data). The null byte keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) Sum {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var s Sum
	h.Sum(s[:0])
	return s
}

func elementDigest(e Element) Sum {
	return hashWithDomain(domainElement, mustCanonical(e))
}

func versionDigest(v Version) Sum {
	return hashWithDomain(domainVersion, mustCanonical(v))
}

// computeSum folds per-element digests in ascending id order. Each digest
// covers its element's id, so the fixed-width concatenation is unambiguous.
func computeSum(elts map[ElementID]Element) Sum {
	ids := slices.Sorted(maps.Keys(elts))
	buf := make([]byte, 0, len(ids)*SumSize)
	for _, id := range ids {
		d := elementDigest(elts[id])
		buf = append(buf, d[:]...)
	}
	return hashWithDomain(domainState, buf)
}

// IsZero reports whether s is the zero value.
func (s Sum) IsZero() bool {
	return s == Sum{}
}

// Compare orders sums by their bytes.
func (s Sum) Compare(o Sum) int {
	return bytes.Compare(s[:], o[:])
}

// Hex returns the lowercase hex encoding of s.
func (s Sum) Hex() string {
	return hex.EncodeToString(s[:])
}

// Short returns a 12-character hex prefix for logs and listings.
func (s Sum) Short() string {
	return s.Hex()[:12]
}

// Multihash wraps s as a SHA2-256 multihash.
func (s Sum) Multihash() multihash.Multihash {
	mh, err := multihash.Encode(s[:], multihash.SHA2_256)
	if err != nil {
		panic("dag: multihash encode: " + err.Error())
	}
	return mh
}

// CID returns s as a CIDv1 with the raw codec.
func (s Sum) CID() gocid.Cid {
	return gocid.NewCidV1(gocid.Raw, s.Multihash())
}

// String returns the base32 multibase encoding of s's CID.
func (s Sum) String() string {
	encoded, _ := multibase.Encode(multibase.Base32, s.CID().Bytes())
	return encoded
}

// MarshalText implements encoding.TextMarshaler.
func (s Sum) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Sum) UnmarshalText(text []byte) error {
	parsed, err := ParseSum(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SumFromCID extracts the sum from a CID carrying a SHA2-256 multihash.
func SumFromCID(c gocid.Cid) (Sum, error) {
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return Sum{}, fmt.Errorf("decode multihash: %w", err)
	}
	if decoded.Code != multihash.SHA2_256 || len(decoded.Digest) != SumSize {
		return Sum{}, fmt.Errorf("unsupported multihash %s (%d bytes)", decoded.Name, len(decoded.Digest))
	}
	var s Sum
	copy(s[:], decoded.Digest)
	return s, nil
}

// ParseSum accepts either the String form (multibase CID) or 64 hex digits.
func ParseSum(text string) (Sum, error) {
	text = strings.TrimSpace(text)
	if len(text) == hex.EncodedLen(SumSize) {
		if raw, err := hex.DecodeString(text); err == nil {
			var s Sum
			copy(s[:], raw)
			return s, nil
		}
	}
	_, cidBytes, err := multibase.Decode(text)
	if err != nil {
		return Sum{}, fmt.Errorf("decode sum %q: %w", text, err)
	}
	c, err := gocid.Cast(cidBytes)
	if err != nil {
		return Sum{}, fmt.Errorf("decode sum CID: %w", err)
	}
	return SumFromCID(c)
}

// CompareSums is a comparison function for slices.SortFunc.
func CompareSums(a, b Sum) int {
	return a.Compare(b)
}
