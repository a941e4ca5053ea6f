package cli

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemshift/partstore/internal/dag"
)

type commitJSON struct {
	ID        string    `json:"id"`
	Petname   string    `json:"petname"`
	Parents   []string  `json:"parents"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author,omitempty"`
	Message   string    `json:"message,omitempty"`
	Changes   int       `json:"changes"`
}

func commitView(c *dag.Commit) commitJSON {
	return commitJSON{
		ID:        c.ID.String(),
		Petname:   c.ID.Petname(),
		Parents:   sumStrings(c.Parents),
		Timestamp: c.Timestamp.UTC(),
		Author:    c.Meta.Author,
		Message:   c.Meta.Message,
		Changes:   c.NumChanges(),
	}
}

func writeCommitLine(w io.Writer, c *dag.Commit) {
	kind := ""
	switch {
	case c.IsRoot():
		kind = " (root)"
	case c.IsMerge():
		kind = " (merge)"
	}
	fmt.Fprintf(w, "%s %-24s %s %d changes%s", c.ID.Short(), c.ID.Petname(), c.Timestamp.UTC().Format(time.RFC3339), c.NumChanges(), kind)
	if c.Meta.Message != "" {
		fmt.Fprintf(w, "  %s", c.Meta.Message)
	}
	fmt.Fprintln(w)
}

func newLogCmd(g *globals) *cobra.Command {
	var (
		from  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "log <partition>",
		Short: "Show commit history",
		Long:  "Show the ancestry of a commit, nearest first. Without --from a single tip is used; a diverged partition lists every commit, newest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(s *session) error {
				p, err := s.repo.Partition(args[0])
				if err != nil {
					return err
				}
				var commits []*dag.Commit
				switch {
				case from != "":
					start, err := p.Graph().MatchSum(from)
					if err != nil {
						return err
					}
					commits = slices.Collect(p.Graph().Ancestors(start.ID))
				case p.MergeRequired():
					commits = p.Graph().Commits()
					slices.Reverse(commits)
				default:
					tip, err := p.Tip()
					if err != nil {
						return err
					}
					commits = slices.Collect(p.Graph().Ancestors(tip.ID))
				}
				if limit > 0 && len(commits) > limit {
					commits = commits[:limit]
				}
				views := make([]commitJSON, len(commits))
				for i, c := range commits {
					views[i] = commitView(c)
				}
				return g.emit(cmd.OutOrStdout(), views, func(w io.Writer) {
					for _, c := range commits {
						writeCommitLine(w, c)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Start at this commit")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum commits to show (0 for all)")
	return cmd
}

func newTipsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tips <partition>",
		Short: "List the current tips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(s *session) error {
				p, err := s.repo.Partition(args[0])
				if err != nil {
					return err
				}
				tips := p.Tips()
				views := make([]commitJSON, len(tips))
				for i, c := range tips {
					views[i] = commitView(c)
				}
				return g.emit(cmd.OutOrStdout(), views, func(w io.Writer) {
					for _, c := range tips {
						fmt.Fprintf(w, "%s %s\n", c.ID, c.ID.Petname())
					}
				})
			})
		},
	}
}

type mergeJSON struct {
	Commit      string          `json:"commit"`
	FastForward bool            `json:"fast_forward,omitempty"`
	Duplicate   bool            `json:"duplicate,omitempty"`
	Conflicts   []dag.ElementID `json:"conflicts,omitempty"`
}

func newMergeCmd(g *globals) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "merge <partition> [<tip> <tip>]",
		Short: "Merge tips",
		Long:  "Merge two tips, or with no tips given, merge all tips until one remains.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("want a partition and zero or two tips, got %d args", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(s *session) error {
				p, err := s.repo.Partition(args[0])
				if err != nil {
					return err
				}
				meta := dag.Meta{Message: message}
				var results []*dag.MergeResult
				if len(args) == 1 {
					results, err = p.MergeAll(meta)
				} else {
					var a, b *dag.Commit
					if a, err = p.Graph().MatchSum(args[1]); err != nil {
						return err
					}
					if b, err = p.Graph().MatchSum(args[2]); err != nil {
						return err
					}
					var res *dag.MergeResult
					res, err = p.Merge(a.ID, b.ID, meta)
					if res != nil {
						results = append(results, res)
					}
				}
				views := make([]mergeJSON, len(results))
				for i, r := range results {
					views[i] = mergeJSON{
						Commit:      r.Commit.ID.String(),
						FastForward: r.FastForward,
						Duplicate:   r.Duplicate,
						Conflicts:   r.Conflicts,
					}
				}
				if emitErr := g.emit(cmd.OutOrStdout(), views, func(w io.Writer) {
					for _, v := range views {
						note := ""
						switch {
						case v.FastForward:
							note = " (fast-forward)"
						case v.Duplicate:
							note = " (already recorded)"
						}
						fmt.Fprintf(w, "%s%s\n", v.Commit, note)
						for _, id := range v.Conflicts {
							fmt.Fprintf(w, "  conflict: %s\n", id)
						}
					}
				}); emitErr != nil {
					return emitErr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	return cmd
}

func newResolveCmd(g *globals) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "resolve <partition> <id> <candidate|remove>",
		Short: "Pick one candidate of a conflicted element",
		Long:  "Pick one candidate of a conflicted element by its index as shown by get, or remove the element.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(s *session) error {
				p, err := s.repo.Partition(args[0])
				if err != nil {
					return err
				}
				cur, err := p.State()
				if err != nil {
					return err
				}
				eid := dag.ElementID(args[1])
				e, ok := cur.Get(eid)
				if !ok {
					return fmt.Errorf("no element %s in %s", eid, p.Name())
				}
				if !e.Conflicted() {
					return fmt.Errorf("resolve %s: %w", eid, dag.ErrNotConflicted)
				}
				var choice dag.Version
				if args[2] == "remove" {
					choice = dag.Version{Removed: true}
				} else {
					i, err := strconv.Atoi(args[2])
					if err != nil || i < 0 || i >= len(e.Candidates) {
						return fmt.Errorf("candidate %q: want remove or an index below %d", args[2], len(e.Candidates))
					}
					choice = e.Candidates[i]
				}
				next, err := cur.Resolve(eid, choice)
				if err != nil {
					return err
				}
				c, err := p.Commit(next, dag.Meta{Message: message})
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
	return cmd
}
