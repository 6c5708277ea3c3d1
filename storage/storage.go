// Package storage persists the command history on local disk. Two backends
// are available: a bbolt database and a plain JSON file.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// defaultLockTimeout bounds how long OpenBolt waits for another process
// holding the database lock.
const defaultLockTimeout = 2 * time.Second

// Bucket names in bbolt
var (
	bucketHistory = []byte("history")
	bucketMeta    = []byte("meta")

	keyCommands = []byte("commands")
	keyRevision = []byte("revision")
)

// BoltStore keeps the latest history list in a bbolt database. Every Save
// replaces the list and bumps a revision counter.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: defaultLockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketHistory, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load returns the persisted commands, newest first. A missing list is empty.
func (s *BoltStore) Load(_ context.Context) ([]resource.Command, error) {
	var cmds []resource.Command
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketHistory).Get(keyCommands)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &cmds)
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return cmds, nil
}

// Save replaces the persisted list.
func (s *BoltStore) Save(_ context.Context, cmds []resource.Command) error {
	data, err := json.Marshal(cmds)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketHistory).Put(keyCommands, data); err != nil {
			return fmt.Errorf("put history: %w", err)
		}
		meta := tx.Bucket(bucketMeta)
		rev := bytesToUint64(meta.Get(keyRevision)) + 1
		return meta.Put(keyRevision, uint64ToBytes(rev))
	})
}

// Revision returns how many times the history has been saved.
func (s *BoltStore) Revision() (uint64, error) {
	var rev uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		rev = bytesToUint64(tx.Bucket(bucketMeta).Get(keyRevision))
		return nil
	})
	return rev, err
}

// FileStore keeps the history as one JSON document, replaced atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file. A missing file is empty history.
func (s *FileStore) Load(_ context.Context) ([]resource.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}

	var cmds []resource.Command
	if err := json.Unmarshal(data, &cmds); err != nil {
		return nil, fmt.Errorf("decode history file: %w", err)
	}
	return cmds, nil
}

// Save writes to a temp file in the same directory, then renames it over the
// previous file.
func (s *FileStore) Save(_ context.Context, cmds []resource.Command) error {
	data, err := json.MarshalIndent(cmds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}
	return nil
}

func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func bytesToUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
