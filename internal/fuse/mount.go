package fuse

import (
	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"

	"github.com/systemshift/partstore/internal/store"
)

// MountOptions tunes the mounted view.
type MountOptions struct {
	Debug  bool
	Logger logrus.FieldLogger
}

// Mount serves a read-only view of repo at mountpoint.
// Returns the server (call server.Wait() to block, server.Unmount() to stop).
func Mount(mountpoint string, repo *store.Repository, opts MountOptions) (*gofuse.Server, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	root := &RootNode{repo: repo, log: log}

	server, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: gofuse.MountOptions{
			FsName:        "partstore",
			Name:          "partstore",
			DisableXAttrs: true,
			Debug:         opts.Debug,
		},
	})
	if err != nil {
		return nil, err
	}
	log.WithField("mountpoint", mountpoint).Info("mounted")
	return server, nil
}
