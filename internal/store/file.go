package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gocid "github.com/ipfs/go-cid"
)

// maxJournalLine bounds a single journal entry. Commits carry full element
// payloads, so this is generous.
const maxJournalLine = 64 << 20

// FileBackend keeps everything as plain files under one directory:
//
//	objects/<cid>               immutable, CID-named
//	refs/<namespace>/<key>      file holding a base32 CID
//	journals/<partition>.jsonl  one entry per line
type FileBackend struct {
	root string
	mu   sync.Mutex // serializes journal appends and resets
}

// OpenFileBackend creates the directory layout under root if needed.
func OpenFileBackend(root string) (*FileBackend, error) {
	for _, dir := range []string{"objects", "refs", "journals"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &FileBackend{root: root}, nil
}

func (b *FileBackend) objectPath(c gocid.Cid) string {
	return filepath.Join(b.root, "objects", EncodeCID(c))
}

// Put writes data as an object, returning its CID. Existing objects are not
// rewritten.
func (b *FileBackend) Put(data []byte) (gocid.Cid, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return gocid.Undef, err
	}
	path := b.objectPath(c)
	if _, err := os.Stat(path); err == nil {
		return c, nil
	}
	if err := SafeWrite(path, data, 0644); err != nil {
		return gocid.Undef, fmt.Errorf("write object: %w", err)
	}
	return c, nil
}

// Get reads an object by CID.
func (b *FileBackend) Get(c gocid.Cid) ([]byte, error) {
	data, err := os.ReadFile(b.objectPath(c))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", c, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", c, err)
	}
	return data, nil
}

// Has checks if an object exists.
func (b *FileBackend) Has(c gocid.Cid) (bool, error) {
	_, err := os.Stat(b.objectPath(c))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (b *FileBackend) journalPath(partition string) string {
	return filepath.Join(b.root, "journals", partition+".jsonl")
}

// AppendJournal appends entries to the partition's journal with one fsync.
// Entries must not contain newlines.
func (b *FileBackend) AppendJournal(partition string, entries ...[]byte) error {
	if err := checkName("partition", partition); err != nil {
		return err
	}
	var buf bytes.Buffer
	for i, e := range entries {
		if bytes.IndexByte(e, '\n') >= 0 {
			return fmt.Errorf("journal entry %d contains a newline", i)
		}
		buf.Write(e)
		buf.WriteByte('\n')
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := AppendSync(b.journalPath(partition), buf.Bytes()); err != nil {
		return fmt.Errorf("append journal %s: %w", partition, err)
	}
	return nil
}

// ReadJournal returns the partition's journal entries in append order. A
// missing journal is empty.
func (b *FileBackend) ReadJournal(partition string) ([][]byte, error) {
	if err := checkName("partition", partition); err != nil {
		return nil, err
	}
	f, err := os.Open(b.journalPath(partition))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", partition, err)
	}
	defer f.Close()

	var entries [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		entries = append(entries, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read journal %s: %w", partition, err)
	}
	return entries, nil
}

// ResetJournal empties the partition's journal.
func (b *FileBackend) ResetJournal(partition string) error {
	if err := checkName("partition", partition); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.journalPath(partition))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reset journal %s: %w", partition, err)
	}
	return nil
}

func splitRef(name string) (string, string, error) {
	ns, key, ok := strings.Cut(name, "/")
	if !ok || !ValidName(ns) || !ValidName(key) {
		return "", "", fmt.Errorf("invalid ref name %q", name)
	}
	return ns, key, nil
}

func (b *FileBackend) refPath(name string) (string, error) {
	ns, key, err := splitRef(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, "refs", ns, key), nil
}

// SetRef points name at c.
func (b *FileBackend) SetRef(name string, c gocid.Cid) error {
	path, err := b.refPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create ref dir: %w", err)
	}
	return SafeWrite(path, []byte(EncodeCID(c)+"\n"), 0644)
}

// GetRef resolves name to a CID.
func (b *FileBackend) GetRef(name string) (gocid.Cid, error) {
	path, err := b.refPath(name)
	if err != nil {
		return gocid.Undef, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return gocid.Undef, fmt.Errorf("ref %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return gocid.Undef, fmt.Errorf("read ref %s: %w", name, err)
	}
	return DecodeCID(strings.TrimSpace(string(data)))
}

// DeleteRef removes name. Deleting a missing ref is not an error.
func (b *FileBackend) DeleteRef(name string) error {
	path, err := b.refPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	return nil
}

// ListRefs returns the keys in namespace, sorted.
func (b *FileBackend) ListRefs(namespace string) ([]string, error) {
	if err := checkName("ref namespace", namespace); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(b.root, "refs", namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		keys = append(keys, e.Name())
	}
	return keys, nil
}

// Close is a no-op; every write is already durable.
func (b *FileBackend) Close() error { return nil }
