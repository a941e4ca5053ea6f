package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/systemshift/partstore/internal/fuse"
	"github.com/systemshift/partstore/internal/store"
)

func newMountCmd(g *globals) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Serve a read-only filesystem view of all partitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mountpoint := args[0]
			if err := os.MkdirAll(mountpoint, 0755); err != nil {
				return err
			}
			return g.withSession(cmd, func(s *session) error {
				server, err := fuse.Mount(mountpoint, s.repo, fuse.MountOptions{
					Debug:  debug || s.cfg.Mount.Debug,
					Logger: s.log,
				})
				if err != nil {
					return err
				}
				flusher := store.NewFlusher(s.repo, s.cfg.FlushInterval)
				flusher.Start()

				done := make(chan os.Signal, 1)
				signal.Notify(done, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(done)
				go func() {
					<-done
					s.log.Info("shutting down")
					server.Unmount()
				}()

				s.log.WithField("pid", os.Getpid()).Info("ready")
				server.Wait()
				s.log.Info("stopped")
				return flusher.Stop()
			})
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Log FUSE requests")
	return cmd
}
