// Package config loads the partstore configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/systemshift/partstore/internal/dag"
	"github.com/systemshift/partstore/internal/store"
)

// FileName is the config file looked up in the repository root.
const FileName = "partstore.yaml"

// Config is the on-disk configuration. Zero fields take their defaults.
type Config struct {
	Root          string         `yaml:"root"`
	Backend       string         `yaml:"backend"`
	LogLevel      string         `yaml:"log_level"`
	Author        string         `yaml:"author,omitempty"`
	MergePolicy   string         `yaml:"merge_policy"`
	Snapshot      SnapshotConfig `yaml:"snapshot"`
	FlushInterval time.Duration  `yaml:"flush_interval"`
	Mount         MountConfig    `yaml:"mount"`
}

// SnapshotConfig sets when a snapshot replaces the journal: once
// commits*commit_weight + edits exceeds threshold.
type SnapshotConfig struct {
	CommitWeight int `yaml:"commit_weight"`
	Threshold    int `yaml:"threshold"`
}

type MountConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Root:        ".partstore",
		Backend:     "file",
		LogLevel:    "info",
		MergePolicy: "keep-both",
		Snapshot: SnapshotConfig{
			CommitWeight: store.DefaultSnapshotPolicy.CommitWeight,
			Threshold:    store.DefaultSnapshotPolicy.Threshold,
		},
		FlushInterval: 30 * time.Second,
	}
}

// Load reads path over the defaults. A missing file yields the defaults;
// unknown keys are rejected. A relative root is taken relative to the
// file's directory.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields and numeric ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root is empty"))
	}
	switch c.Backend {
	case "file", "badger":
	default:
		errs = append(errs, fmt.Errorf("backend %q: want file or badger", c.Backend))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if _, err := dag.SolverByName(c.MergePolicy); err != nil {
		errs = append(errs, fmt.Errorf("merge_policy: %w", err))
	}
	if c.Snapshot.CommitWeight < 0 || c.Snapshot.Threshold < 0 {
		errs = append(errs, errors.New("snapshot weights must not be negative"))
	}
	if c.FlushInterval < 0 {
		errs = append(errs, errors.New("flush_interval must not be negative"))
	}
	return errors.Join(errs...)
}

// Logger builds a logger at the configured level, writing to w.
func (c *Config) Logger(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

// Policy returns the snapshot policy. A zero threshold disables snapshots.
func (c *Config) Policy() store.SnapshotPolicy {
	return store.SnapshotPolicy{
		CommitWeight: c.Snapshot.CommitWeight,
		Threshold:    c.Snapshot.Threshold,
	}
}

// Solver returns the merge policy's solver.
func (c *Config) Solver() dag.Solver {
	s, err := dag.SolverByName(c.MergePolicy)
	if err != nil {
		return dag.KeepBoth
	}
	return s
}

// Write saves c as YAML at path.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return store.SafeWrite(path, data, 0644)
}
