package fuse

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/systemshift/partstore/internal/dag"
)

type commitInfo struct {
	ID        string    `json:"id"`
	Petname   string    `json:"petname"`
	Parents   []string  `json:"parents"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author,omitempty"`
	Message   string    `json:"message,omitempty"`
	Merge     bool      `json:"merge"`
	Changes   int       `json:"changes"`
}

type changeInfo struct {
	Kind dag.ChangeKind `json:"kind"`
	ID   dag.ElementID  `json:"id"`
}

func indented(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil
	}
	return append(data, '\n')
}

func sumLines(sums []dag.Sum) []byte {
	var b strings.Builder
	for _, s := range sums {
		b.WriteString(s.String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// headTarget is the head symlink target, present only for a single tip.
func headTarget(tips []dag.Sum) (string, bool) {
	if len(tips) != 1 {
		return "", false
	}
	return "commits/" + tips[0].String(), true
}

func renderInfo(c *dag.Commit) []byte {
	parents := make([]string, len(c.Parents))
	for i, p := range c.Parents {
		parents[i] = p.String()
	}
	return indented(commitInfo{
		ID:        c.ID.String(),
		Petname:   c.ID.Petname(),
		Parents:   parents,
		Timestamp: c.Timestamp.UTC(),
		Author:    c.Meta.Author,
		Message:   c.Meta.Message,
		Merge:     c.IsMerge(),
		Changes:   c.NumChanges(),
	})
}

func renderChanges(c *dag.Commit) []byte {
	out := make([]changeInfo, len(c.Changes))
	for i, ch := range c.Changes {
		out[i] = changeInfo{Kind: ch.Kind, ID: ch.ID}
	}
	return indented(out)
}

func renderMeta(e dag.Element) []byte {
	m := e.Metadata
	if m == nil {
		m = dag.Metadata{}
	}
	return indented(m)
}

// entryName maps an element id to a single path component.
func entryName(id dag.ElementID) string {
	return url.PathEscape(string(id))
}

func elementID(name string) (dag.ElementID, bool) {
	s, err := url.PathUnescape(name)
	if err != nil || s == "" {
		return "", false
	}
	return dag.ElementID(s), true
}
