// Package cli implements the partstore commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/systemshift/partstore/internal/config"
	"github.com/systemshift/partstore/internal/store"
)

type globals struct {
	configPath string
	format     string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "partstore",
		Short:         "Versioned partitions of keyed elements",
		Long:          "Partitions of keyed elements with a content-addressed commit history, divergent tips and three-way merges.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch g.format {
			case "text", "json":
				return nil
			}
			return fmt.Errorf("unknown format %q: want text or json", g.format)
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default: $PARTSTORE_CONFIG or ./"+config.FileName+")")
	root.PersistentFlags().StringVarP(&g.format, "format", "f", "text", "Output format: text or json")

	root.AddCommand(
		newInitCmd(g),
		newPartitionsCmd(g),
		newPutCmd(g),
		newRmCmd(g),
		newGetCmd(g),
		newLsCmd(g),
		newLogCmd(g),
		newTipsCmd(g),
		newMergeCmd(g),
		newResolveCmd(g),
		newMountCmd(g),
	)
	return root
}

func (g *globals) path() string {
	if g.configPath != "" {
		return g.configPath
	}
	if env := os.Getenv("PARTSTORE_CONFIG"); env != "" {
		return env
	}
	return config.FileName
}

// session is one opened repository.
type session struct {
	cfg  *config.Config
	log  *logrus.Logger
	repo *store.Repository
}

func (g *globals) open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(g.path())
	if err != nil {
		return nil, err
	}
	log := cfg.Logger(cmd.ErrOrStderr())

	author := cfg.Author
	if author == "" {
		id, err := store.LoadIdentity(filepath.Join(cfg.Root, store.IdentityFile), log)
		if err != nil {
			return nil, err
		}
		author = id.DID
	}

	backend, err := store.OpenBackend(cfg.Backend, cfg.Root, log)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	repo, err := store.Open(store.Options{
		Backend: backend,
		Logger:  log,
		Solver:  cfg.Solver(),
		Author:  author,
		Policy:  cfg.Policy(),
	})
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &session{cfg: cfg, log: log, repo: repo}, nil
}

// withSession opens the repository, runs fn and closes it, saving
// whatever fn committed.
func (g *globals) withSession(cmd *cobra.Command, fn func(*session) error) (err error) {
	s, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.repo.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

func (g *globals) emit(w io.Writer, v any, text func(io.Writer)) error {
	if g.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
