package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systemshift/partstore/internal/dag"
	"github.com/systemshift/partstore/internal/store"
)

type versionView struct {
	Payload string       `json:"payload,omitempty"`
	Meta    dag.Metadata `json:"meta,omitempty"`
	Removed bool         `json:"removed,omitempty"`
}

type elementView struct {
	ID         dag.ElementID `json:"id"`
	Payload    string        `json:"payload,omitempty"`
	Meta       dag.Metadata  `json:"meta,omitempty"`
	Candidates []versionView `json:"candidates,omitempty"`
}

func viewElement(e dag.Element) elementView {
	v := elementView{ID: e.ID, Payload: string(e.Payload), Meta: e.Metadata}
	for _, c := range e.Candidates {
		v.Candidates = append(v.Candidates, versionView{Payload: string(c.Payload), Meta: c.Metadata, Removed: c.Removed})
	}
	return v
}

// stateAt returns the state at the commit matching at, or at the single
// tip when at is empty.
func stateAt(p *dag.Partition, at string) (*dag.State, error) {
	if at == "" {
		return p.State()
	}
	c, err := p.Graph().MatchSum(at)
	if err != nil {
		return nil, err
	}
	return p.StateAt(c.ID)
}

// commitState records next either on the single tip or, with on set, on
// that commit.
func commitState(p *dag.Partition, on string, next *dag.State, meta dag.Meta) (*dag.Commit, error) {
	if on == "" {
		return p.Commit(next, meta)
	}
	c, err := p.Graph().MatchSum(on)
	if err != nil {
		return nil, err
	}
	return p.CommitOn(c.ID, next, meta)
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) > 0 {
		return []byte(strings.Join(args, " ")), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			return nil, errors.New("payload is required (positional arg or stdin)")
		}
	}
	return io.ReadAll(in)
}

func newPutCmd(g *globals) *cobra.Command {
	var (
		id      string
		meta    map[string]string
		message string
		on      string
	)
	cmd := &cobra.Command{
		Use:   "put <partition> [payload]",
		Short: "Insert or replace an element",
		Long:  "Insert or replace an element. The payload can be a positional arg or piped via stdin.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, args[1:])
			if err != nil {
				return err
			}
			eid := dag.ElementID(id)
			if eid == "" {
				eid = store.NewElementID()
			}
			return g.withSession(cmd, func(s *session) error {
				p, err := s.repo.Partition(args[0])
				if err != nil {
					return err
				}
				cur, err := stateAt(p, on)
				if err != nil {
					return err
				}
				c, err := commitState(p, on, cur.With(dag.NewElement(eid, payload, meta)), dag.Meta{Message: message})
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), map[string]string{"id": string(eid), "commit": c.ID.String()}, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s\n", eid, c.ID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Element id (default: a new ULID)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "Metadata key=value pairs")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	cmd.Flags().StringVar(&on, "on", "", "Commit on this commit instead of the tip")
	return cmd
}

func newRmCmd(g *globals) *cobra.Command {
	var (
		message string
		on      string
	)
	cmd := &cobra.Command{
		Use:   "rm <partition> <id>",
		Short: "Remove an element",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(s *session) error {
				p, err := s.repo.Partition(args[0])
				if err != nil {
					return err
				}
				cur, err := stateAt(p, on)
				if err != nil {
					return err
				}
				eid := dag.ElementID(args[1])
				if !cur.Has(eid) {
					return fmt.Errorf("no element %s in %s", eid, p.Name())
				}
				c, err := commitState(p, on, cur.Without(eid), dag.Meta{Message: message})
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), commitView(c), func(w io.Writer) {
					fmt.Fprintln(w, c.ID)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	cmd.Flags().StringVar(&on, "on", "", "Commit on this commit instead of the tip")
	return cmd
}

func newGetCmd(g *globals) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "get <partition> <id>",
		Short: "Print an element",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(s *session) error {
				p, err := s.repo.Partition(args[0])
				if err != nil {
					return err
				}
				st, err := stateAt(p, at)
				if err != nil {
					return err
				}
				e, ok := st.Get(dag.ElementID(args[1]))
				if !ok {
					return fmt.Errorf("no element %s in %s", args[1], p.Name())
				}
				return g.emit(cmd.OutOrStdout(), viewElement(e), func(w io.Writer) {
					if !e.Conflicted() {
						w.Write(e.Payload)
						return
					}
					fmt.Fprintf(w, "%s is conflicted:\n", e.ID)
					for i, c := range e.Candidates {
						if c.Removed {
							fmt.Fprintf(w, "[%d] (removed)\n", i)
							continue
						}
						fmt.Fprintf(w, "[%d] %s\n", i, c.Payload)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Read at this commit instead of the tip")
	return cmd
}

type listEntry struct {
	ID         dag.ElementID `json:"id"`
	Size       int           `json:"size"`
	Conflicted bool          `json:"conflicted,omitempty"`
}

func newLsCmd(g *globals) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "ls <partition>",
		Short: "List elements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(s *session) error {
				p, err := s.repo.Partition(args[0])
				if err != nil {
					return err
				}
				st, err := stateAt(p, at)
				if err != nil {
					return err
				}
				entries := make([]listEntry, 0, st.Len())
				for _, e := range st.Elements() {
					entries = append(entries, listEntry{ID: e.ID, Size: len(e.Payload), Conflicted: e.Conflicted()})
				}
				return g.emit(cmd.OutOrStdout(), entries, func(w io.Writer) {
					for _, e := range entries {
						mark := ""
						if e.Conflicted {
							mark = "\tconflict"
						}
						fmt.Fprintf(w, "%s\t%d%s\n", e.ID, e.Size, mark)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "List at this commit instead of the tip")
	return cmd
}
