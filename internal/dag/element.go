package dag

import (
	"bytes"
	"maps"
	"slices"
)

// ElementID identifies an element for its whole lifetime.
type ElementID string

// Metadata holds small structured attributes of an element, such as
// classification tags. A nil and an empty Metadata are equal.
type Metadata map[string]string

// Equal reports whether both maps hold the same key/value pairs.
func (m Metadata) Equal(o Metadata) bool {
	return maps.Equal(m, o)
}

// Clone returns a copy of m, or nil when m is empty.
func (m Metadata) Clone() Metadata {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}

// Version is one branch's outcome for an element: its content, or its removal.
type Version struct {
	Payload  []byte   `json:"payload,omitempty"`
	Metadata Metadata `json:"meta,omitempty"`
	Removed  bool     `json:"removed,omitempty"`
}

// Equal reports whether two versions describe the same outcome.
func (v Version) Equal(o Version) bool {
	if v.Removed || o.Removed {
		return v.Removed == o.Removed
	}
	return bytes.Equal(v.Payload, o.Payload) && v.Metadata.Equal(o.Metadata)
}

func (v Version) clone() Version {
	return Version{
		Payload:  bytes.Clone(v.Payload),
		Metadata: v.Metadata.Clone(),
		Removed:  v.Removed,
	}
}

// Element is a keyed unit of versioned data.
//
// An element produced by a merge in which both branches changed it
// differently has no content of its own; it carries the competing versions
// in Candidates instead, sorted canonically.
type Element struct {
	ID         ElementID `json:"id"`
	Payload    []byte    `json:"payload,omitempty"`
	Metadata   Metadata  `json:"meta,omitempty"`
	Candidates []Version `json:"candidates,omitempty"`
}

// NewElement builds an element, copying payload and metadata.
func NewElement(id ElementID, payload []byte, meta Metadata) Element {
	return Element{
		ID:       id,
		Payload:  bytes.Clone(payload),
		Metadata: meta.Clone(),
	}
}

// Conflicted reports whether the element holds unresolved merge candidates.
func (e Element) Conflicted() bool {
	return len(e.Candidates) > 0
}

// Version returns the element's own content as a Version.
func (e Element) Version() Version {
	return Version{Payload: e.Payload, Metadata: e.Metadata}
}

// Equal reports whether two elements have the same id, content and
// candidates.
func (e Element) Equal(o Element) bool {
	if e.ID != o.ID {
		return false
	}
	if !bytes.Equal(e.Payload, o.Payload) || !e.Metadata.Equal(o.Metadata) {
		return false
	}
	return slices.EqualFunc(e.Candidates, o.Candidates, Version.Equal)
}

// Clone returns a deep copy of e.
func (e Element) Clone() Element {
	c := Element{
		ID:       e.ID,
		Payload:  bytes.Clone(e.Payload),
		Metadata: e.Metadata.Clone(),
	}
	if len(e.Candidates) > 0 {
		c.Candidates = make([]Version, len(e.Candidates))
		for i, v := range e.Candidates {
			c.Candidates[i] = v.clone()
		}
	}
	return c
}

// versionsOf expands one side of a merge into the versions it stands for.
// An absent element is a removal; a conflicted one stands for all its
// candidates.
func versionsOf(e Element, present bool) []Version {
	switch {
	case !present:
		return []Version{{Removed: true}}
	case e.Conflicted():
		return e.Candidates
	default:
		return []Version{e.Version()}
	}
}
