// Package wal is the append-only journal of command lifecycle transitions.
// Unlike the bounded history log it is never truncated by count; old files
// are removed by retention only.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EntryType defines the type of WAL entry
type EntryType string

const (
	EntryIssued    EntryType = "issued"
	EntryRunning   EntryType = "running"
	EntryCompleted EntryType = "completed"
	EntryFailed    EntryType = "failed"
	EntryDeferred  EntryType = "deferred"
	EntryCancelled EntryType = "cancelled"
)

// Config controls file naming and retention.
type Config struct {
	FilePrefix    string
	RetentionDays int
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig() Config {
	return Config{FilePrefix: "cirrus", RetentionDays: 30}
}

// Entry represents a single WAL entry
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Type      EntryType       `json:"type"`
	Target    string          `json:"target,omitempty"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
}

// WAL provides append-only journaling for audit
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	config   Config
}

// Open creates or opens a WAL in the specified directory
func Open(dir string) (*WAL, error) {
	return OpenWithConfig(dir, DefaultConfig())
}

// OpenWithConfig opens a WAL with explicit configuration.
func OpenWithConfig(dir string, config Config) (*WAL, error) {
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultConfig().FilePrefix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}

	// Use timestamp in filename for rotation
	filename := fmt.Sprintf("%s-%s.wal", config.FilePrefix, time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}

	w := &WAL{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
		config: config,
	}
	w.sequence = lastSequence(findAllWALFiles(dir, config.FilePrefix))

	return w, nil
}

// Dir returns the journal directory.
func (w *WAL) Dir() string {
	return w.dir
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the WAL
func (w *WAL) Append(entryType EntryType, target string, data any) error {
	return w.append(entryType, target, data, "")
}

// AppendError adds an error entry to the WAL
func (w *WAL) AppendError(entryType EntryType, target string, data any, errToLog error) error {
	msg := ""
	if errToLog != nil {
		msg = errToLog.Error()
	}
	return w.append(entryType, target, data, msg)
}

func (w *WAL) append(entryType EntryType, target string, data any, errMsg string) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sequence++
	return w.writeEntry(Entry{
		Timestamp: time.Now(),
		Sequence:  w.sequence,
		Type:      entryType,
		Target:    target,
		Data:      jsonData,
		Error:     errMsg,
	})
}

// writeEntry writes a single entry to the WAL
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if _, err := w.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	// Flush immediately for durability
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return w.file.Sync()
}

// Sequence returns the last written sequence number.
func (w *WAL) Sequence() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sequence
}

// lastSequence scans existing files so sequence numbers keep increasing
// across restarts.
func lastSequence(files []string) int64 {
	var last int64
	for _, path := range files {
		reader, err := NewReader(path)
		if err != nil {
			continue
		}
		for {
			entry, err := reader.Next()
			if err != nil {
				break
			}
			if entry.Sequence > last {
				last = entry.Sequence
			}
		}
		_ = reader.Close()
	}
	return last
}

// Reader provides WAL replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a WAL reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: scanner, file: file}, nil
}

// Next reads the next entry from the WAL
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay replays entries newer than since, oldest file first. Corrupted
// lines stop replay of that file only.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files := findAllWALFiles(dir, DefaultConfig().FilePrefix)
	sort.Strings(files)

	for _, file := range files {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		entry, err := reader.Next()
		if err != nil {
			// EOF or a corrupted line ends this file
			return nil
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
