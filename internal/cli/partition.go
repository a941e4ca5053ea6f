package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/systemshift/partstore/internal/dag"
)

func newInitCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init <partition>",
		Short: "Create an empty partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(s *session) error {
				if err := os.MkdirAll(s.cfg.Root, 0755); err != nil {
					return err
				}
				p, err := s.repo.Create(args[0])
				if err != nil {
					return err
				}
				root := p.Graph().Root()
				return g.emit(cmd.OutOrStdout(), commitView(root), func(w io.Writer) {
					fmt.Fprintf(w, "created %s at %s\n", p.Name(), root.ID)
				})
			})
		},
	}
}

type partitionView struct {
	Name    string   `json:"name"`
	Commits int      `json:"commits"`
	Tips    []string `json:"tips"`
}

func newPartitionsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "List partitions and their tips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(s *session) error {
				names, err := s.repo.Partitions()
				if err != nil {
					return err
				}
				views := make([]partitionView, 0, len(names))
				for _, name := range names {
					p, err := s.repo.Partition(name)
					if err != nil {
						return err
					}
					views = append(views, partitionView{
						Name:    name,
						Commits: p.Graph().Len(),
						Tips:    sumStrings(p.Graph().TipIDs()),
					})
				}
				return g.emit(cmd.OutOrStdout(), views, func(w io.Writer) {
					for _, v := range views {
						status := "clean"
						if len(v.Tips) > 1 {
							status = "merge required"
						}
						fmt.Fprintf(w, "%s\t%d commits\t%d tips\t%s\n", v.Name, v.Commits, len(v.Tips), status)
					}
				})
			})
		},
	}
}

func sumStrings(sums []dag.Sum) []string {
	out := make([]string, len(sums))
	for i, s := range sums {
		out[i] = s.String()
	}
	return out
}
