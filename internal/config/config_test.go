package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/partstore/internal/dag"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	want := Default()
	want.Root = filepath.Join(dir, ".partstore")
	assert.Equal(t, want, cfg)
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Backend)
	assert.Equal(t, filepath.Join(filepath.Dir(path), ".partstore"), cfg.Root)
}

func TestLoadOverrides(t *testing.T) {
	path := writeFile(t, `
root: /var/lib/partstore
backend: badger
log_level: debug
author: did:key:zexample
merge_policy: prefer-second
snapshot:
  commit_weight: 2
  threshold: 40
flush_interval: 5s
mount:
  debug: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/partstore", cfg.Root)
	assert.Equal(t, "badger", cfg.Backend)
	assert.Equal(t, "did:key:zexample", cfg.Author)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.True(t, cfg.Mount.Debug)
	assert.Equal(t, 2, cfg.Policy().CommitWeight)
	assert.Equal(t, 40, cfg.Policy().Threshold)

	first := dag.NewElement("x", []byte("1"), nil)
	second := dag.NewElement("x", []byte("2"), nil)
	got, ok := cfg.Solver().Solve("x", nil, &first, &second)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), got.Payload)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "backnd: file\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"backend":   func(c *Config) { c.Backend = "sqlite" },
		"log level": func(c *Config) { c.LogLevel = "loud" },
		"policy":    func(c *Config) { c.MergePolicy = "coin-flip" },
		"snapshot":  func(c *Config) { c.Snapshot.Threshold = -1 },
		"flush":     func(c *Config) { c.FlushInterval = -time.Second },
		"root":      func(c *Config) { c.Root = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := Default()
	cfg.Root = filepath.Join(filepath.Dir(path), "data")
	cfg.MergePolicy = "prefer-first"
	cfg.FlushInterval = time.Minute
	require.NoError(t, cfg.Write(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogLevel = "warn"
	log := cfg.Logger(&buf)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
