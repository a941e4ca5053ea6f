package store

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/systemshift/partstore/internal/dag"
)

const partitionNamespace = "partitions"

var (
	ErrPartitionExists = errors.New("partition already exists")
	ErrNoPartition     = errors.New("no such partition")
	// ErrUnsaved is returned when unloading a partition whose newest
	// commits or tip moves have not been persisted.
	ErrUnsaved = errors.New("partition has unsaved commits")
)

// Options configures a Repository.
type Options struct {
	Backend Backend
	Logger  logrus.FieldLogger
	Solver  dag.Solver
	Author  string
	Policy  SnapshotPolicy
	Clock   func() time.Time
}

type loadedPartition struct {
	part *dag.Partition
	// Journal weight since the last snapshot, fed to the snapshot policy.
	commits int
	edits   int
	// last is the newest journaled commit, zero if the journal is empty.
	last dag.Sum
}

// Repository owns the partitions of one store. Partitions are loaded from
// the backend on first use and stay resident until unloaded.
type Repository struct {
	mu      sync.Mutex
	backend Backend
	opts    Options
	log     logrus.FieldLogger
	parts   map[string]*loadedPartition
}

// OpenBackend opens the backend named kind under root.
func OpenBackend(kind, root string, log logrus.FieldLogger) (Backend, error) {
	switch kind {
	case "", "file":
		return OpenFileBackend(root)
	case "badger":
		return OpenBadgerBackend(BadgerConfig{Path: filepath.Join(root, "badger"), Logger: log})
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// Open returns a repository over opts.Backend. Nothing is loaded yet.
func Open(opts Options) (*Repository, error) {
	if opts.Backend == nil {
		return nil, errors.New("open repository: no backend")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Solver == nil {
		opts.Solver = dag.KeepBoth
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Repository{
		backend: opts.Backend,
		opts:    opts,
		log:     opts.Logger,
		parts:   make(map[string]*loadedPartition),
	}, nil
}

// Backend returns the underlying backend.
func (r *Repository) Backend() Backend { return r.backend }

func (r *Repository) newPartition(name string) *dag.Partition {
	return dag.NewPartition(name,
		dag.WithLogger(r.log),
		dag.WithSolver(r.opts.Solver),
		dag.WithAuthor(r.opts.Author),
		dag.WithClock(r.opts.Clock),
	)
}

func (r *Repository) exists(name string) (bool, error) {
	_, err := r.backend.GetRef(partitionNamespace + "/" + name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Create registers a new, empty partition.
func (r *Repository) Create(name string) (*dag.Partition, error) {
	if err := checkName("partition", name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.parts[name]; ok {
		return nil, fmt.Errorf("%s: %w", name, ErrPartitionExists)
	}
	found, err := r.exists(name)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, fmt.Errorf("%s: %w", name, ErrPartitionExists)
	}

	p := r.newPartition(name)
	if err := r.backend.SetRef(partitionNamespace+"/"+name, p.Graph().Root().ID.CID()); err != nil {
		return nil, fmt.Errorf("register partition %s: %w", name, err)
	}
	r.parts[name] = &loadedPartition{part: p}
	r.log.WithField("partition", name).Info("created partition")
	return p, nil
}

// Partition returns the named partition, loading it if needed.
func (r *Repository) Partition(name string) (*dag.Partition, error) {
	if err := checkName("partition", name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.parts[name]; ok {
		return l.part, nil
	}
	found, err := r.exists(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", name, ErrNoPartition)
	}
	l, err := r.load(name)
	if err != nil {
		return nil, err
	}
	r.parts[name] = l
	return l.part, nil
}

// load rebuilds a partition from its snapshot plus journal, then reinstates
// the recorded tip set. Undecodable journal lines, typically a torn final
// append, are skipped.
func (r *Repository) load(name string) (*loadedPartition, error) {
	log := r.log.WithField("partition", name)
	commits, err := ReadSnapshot(r.backend, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	fromSnapshot := len(commits)

	entries, err := r.backend.ReadJournal(name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	l := &loadedPartition{part: r.newPartition(name)}
	var journaled []dag.Sum
	for i, entry := range entries {
		c, err := DecodeCommit(entry)
		if err != nil {
			log.WithError(err).WithField("entry", i).Warn("skipping journal entry")
			continue
		}
		commits = append(commits, c)
		journaled = append(journaled, c.ID)
		l.last = c.ID
		l.commits++
		l.edits += c.NumChanges()
	}

	n, err := l.part.Load(commits)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	rec, err := readTips(r.backend, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if rec != nil {
		l.part.RestoreTips(rec.Tips, rec.newerThan(journaled))
	}
	log.WithFields(logrus.Fields{
		"snapshot": fromSnapshot,
		"journal":  l.commits,
		"commits":  n,
		"tips":     len(l.part.Tips()),
	}).Info("loaded partition")
	return l, nil
}

// Partitions lists every registered partition, loaded or not.
func (r *Repository) Partitions() ([]string, error) {
	return r.backend.ListRefs(partitionNamespace)
}

// Loaded lists the partitions currently resident, sorted.
func (r *Repository) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.parts))
}

// Save journals the partition's unsaved commits, records its tips and
// writes a snapshot when the policy says so.
func (r *Repository) Save(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.parts[name]
	if !ok {
		return fmt.Errorf("save %s: %w", name, ErrNoPartition)
	}
	return r.save(name, l)
}

func (r *Repository) save(name string, l *loadedPartition) error {
	if !l.part.HasUnsaved() {
		return nil
	}
	unsaved := l.part.Unsaved()
	entries := make([][]byte, len(unsaved))
	ids := make([]dag.Sum, len(unsaved))
	edits := 0
	for i, c := range unsaved {
		enc, err := EncodeCommit(c)
		if err != nil {
			return err
		}
		entries[i] = enc
		ids[i] = c.ID
		edits += c.NumChanges()
	}
	log := r.log.WithField("partition", name)
	if len(unsaved) > 0 {
		if err := r.backend.AppendJournal(name, entries...); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
		l.commits += len(unsaved)
		l.edits += edits
		l.last = ids[len(ids)-1]
		log.WithField("commits", len(unsaved)).Debug("journaled commits")
	}
	if err := WriteTips(r.backend, l.part, l.last); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	l.part.MarkSaved(ids...)

	if r.opts.Policy.Due(l.commits, l.edits) {
		if err := WriteSnapshot(r.backend, l.part); err != nil {
			return fmt.Errorf("snapshot %s: %w", name, err)
		}
		log.WithFields(logrus.Fields{
			"commits": l.commits,
			"edits":   l.edits,
		}).Info("wrote snapshot")
		l.commits, l.edits, l.last = 0, 0, dag.Sum{}
	}
	return nil
}

// SaveAll saves every loaded partition, continuing past failures.
func (r *Repository) SaveAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(r.parts)) {
		errs = append(errs, r.save(name, r.parts[name]))
	}
	return errors.Join(errs...)
}

// Unload drops a partition from memory. Unsaved commits make this fail
// unless force is set, in which case they are lost.
func (r *Repository) Unload(name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.parts[name]
	if !ok {
		return nil
	}
	if l.part.HasUnsaved() {
		if !force {
			return fmt.Errorf("unload %s: %w", name, ErrUnsaved)
		}
		r.log.WithFields(logrus.Fields{
			"partition": name,
			"unsaved":   len(l.part.Unsaved()),
		}).Warn("discarding unsaved commits")
	}
	delete(r.parts, name)
	return nil
}

// MergeRequired lists loaded partitions whose history has diverged.
func (r *Repository) MergeRequired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name, l := range r.parts {
		if l.part.MergeRequired() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Close saves everything and closes the backend.
func (r *Repository) Close() error {
	saveErr := r.SaveAll()
	return errors.Join(saveErr, r.backend.Close())
}
