// Package executor resolves family handlers for abstract actions, dispatches
// the provider call and records every outcome as a Command.
package executor

import (
	"context"
	"time"

	"github.com/yairfalse/cirrus/internal/clock"
	"github.com/yairfalse/cirrus/pkg/resource"
	"github.com/yairfalse/cirrus/wal"
)

// Handler performs actions against one resource family.
type Handler interface {
	Family() resource.Family
	// Kinds lists the natively supported action kinds.
	Kinds() []resource.ActionKind
	// Execute performs the provider call and returns its response.
	Execute(ctx context.Context, key resource.Key, action resource.ServiceAction) (map[string]any, error)
}

// Scaler is implemented by handlers whose family has no native restart.
// The engine emulates restart as scale-to-zero followed by a deferred
// scale back to the desired count.
type Scaler interface {
	ScaleTo(ctx context.Context, key resource.Key, count int32) (map[string]any, error)
	// DefaultCount is the desired count restored after an emulated restart
	// when the action carries no explicit count.
	DefaultCount() int32
}

// ActionValidator is implemented by handlers with family-specific parameter
// rules. It runs before any provider call.
type ActionValidator interface {
	ValidateAction(action resource.ServiceAction) error
}

// Recorder receives every finished command. history.Log implements it.
type Recorder interface {
	Append(cmd resource.Command)
}

// Journal receives lifecycle transitions. *wal.WAL implements it.
type Journal interface {
	Append(entryType wal.EntryType, target string, data any) error
	AppendError(entryType wal.EntryType, target string, data any, err error) error
}

// Options configure engine behavior
type Options struct {
	// RestartGrace is the delay between scale-to-zero and scale-back.
	RestartGrace time.Duration
	// CallTimeout bounds one provider call.
	CallTimeout time.Duration
	// RateLimit is provider calls per second; zero means unlimited.
	RateLimit float64
	Burst     int
	// BatchConcurrency bounds concurrent executions in ExecuteBatch.
	BatchConcurrency int

	Clock   clock.Clock
	Journal Journal
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		RestartGrace:     5 * time.Second,
		CallTimeout:      30 * time.Second,
		Burst:            1,
		BatchConcurrency: 4,
	}
}

// BatchFailure is one failed item of a batch.
type BatchFailure struct {
	Target resource.Key `json:"target"`
	Error  string       `json:"error"`
}

// BatchResult reports per-item outcomes. Items never affect each other.
type BatchResult struct {
	Successful []resource.Key      `json:"successful"`
	Failed     []BatchFailure      `json:"failed"`
	Commands   []*resource.Command `json:"commands"`
}

// DeferredTask is a scheduled follow-up of an emulated restart.
type DeferredTask struct {
	ID       string       `json:"id"`
	ParentID string       `json:"parent_id"`
	Target   resource.Key `json:"target"`
	Count    int32        `json:"count"`
	DueAt    time.Time    `json:"due_at"`

	timer clock.Timer
}
