// Package emitter publishes the outcome of auto-discovery passes.
package emitter

import (
	"context"
	"errors"
	"time"

	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// Event is one auto-discovery pass. Changes is nil for the baseline pass.
type Event struct {
	TakenAt  time.Time
	Snapshot plugin.Snapshot
	Changes  []resource.ResourceDiff
}

// Emitter outputs discovery events to a backend.
type Emitter interface {
	// Emit sends one event to the backend.
	Emit(ctx context.Context, event Event) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters. One failing backend never
// keeps the event from the others.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters and joins their errors.
func (m *MultiEmitter) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of backends.
func (m *MultiEmitter) Len() int {
	return len(m.emitters)
}
