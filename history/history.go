// Package history is the bounded, newest-first ledger of executed commands.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// DefaultCapacity is the number of commands kept when none is configured.
const DefaultCapacity = 100

// saveTimeout bounds one write-through save.
const saveTimeout = 5 * time.Second

// Store persists the history list. Lists are newest first.
type Store interface {
	Load(ctx context.Context) ([]resource.Command, error)
	Save(ctx context.Context, cmds []resource.Command) error
}

// Log is a fixed-capacity ring of commands. Appends are serialized; the
// oldest entry is evicted once the ring is full.
//
// Store I/O runs outside mu, so readers never wait on a save. Saves are
// serialized by saveMu and a save older than the last one written is skipped.
type Log struct {
	mu   sync.Mutex
	buf  []resource.Command
	head int // index of the next write
	size int
	rev  uint64

	saveMu sync.Mutex
	saved  uint64
	store  Store
}

// New creates an empty log. A nil store keeps history in memory only.
func New(capacity int, store Store) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]resource.Command, capacity), store: store}
}

// Load replaces the in-memory state with the persisted one. A load error or
// corrupted data is logged and leaves the log empty; it is never fatal.
func (l *Log) Load(ctx context.Context) {
	if l.store == nil {
		return
	}

	cmds, err := l.store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("discarding unreadable command history")
		cmds = nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.head, l.size = 0, 0
	for i := range l.buf {
		l.buf[i] = resource.Command{}
	}
	if len(cmds) > len(l.buf) {
		cmds = cmds[:len(l.buf)]
	}
	// stored newest first; replay oldest first
	for i := len(cmds) - 1; i >= 0; i-- {
		if cmds[i].ID == "" {
			continue
		}
		l.put(cmds[i])
	}
	log.Debug().Int("commands", l.size).Msg("command history loaded")
}

// Append records a command, evicting the oldest past capacity, and persists
// the new list. Save failures are logged, never returned.
func (l *Log) Append(cmd resource.Command) {
	l.mu.Lock()
	l.put(cmd)
	l.rev++
	rev := l.rev
	var snapshot []resource.Command
	if l.store != nil {
		snapshot = l.list()
	}
	l.mu.Unlock()

	if l.store != nil {
		l.save(rev, snapshot, cmd.ID)
	}
}

func (l *Log) save(rev uint64, snapshot []resource.Command, id string) {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	if rev <= l.saved {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := l.store.Save(ctx, snapshot); err != nil {
		log.Error().Err(err).Str("command", id).Msg("persist command history")
		return
	}
	l.saved = rev
}

func (l *Log) put(cmd resource.Command) {
	l.buf[l.head] = cmd
	l.head = (l.head + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
}

// List returns a newest-first copy.
func (l *Log) List() []resource.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list()
}

func (l *Log) list() []resource.Command {
	out := make([]resource.Command, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.head - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx].Clone())
	}
	return out
}

// Get returns a command by ID.
func (l *Log) Get(id string) (resource.Command, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < l.size; i++ {
		idx := (l.head - 1 - i + len(l.buf)) % len(l.buf)
		if l.buf[idx].ID == id {
			return l.buf[idx].Clone(), true
		}
	}
	return resource.Command{}, false
}

// Len returns the number of stored commands.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Capacity returns the ring size.
func (l *Log) Capacity() int {
	return len(l.buf)
}
