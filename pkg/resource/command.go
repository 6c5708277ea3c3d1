package resource

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandState is the lifecycle state of a Command.
type CommandState string

const (
	CommandPending   CommandState = "pending"
	CommandRunning   CommandState = "running"
	CommandCompleted CommandState = "completed"
	CommandFailed    CommandState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s CommandState) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

// Command is the audit record of one action against one resource.
// State moves pending -> running -> completed|failed, or pending -> failed
// for precondition failures. It never moves backwards.
type Command struct {
	ID          string         `json:"id"`
	ParentID    string         `json:"parent_id,omitempty"`
	Family      Family         `json:"family"`
	Action      ServiceAction  `json:"action"`
	Target      Key            `json:"target"`
	IssuedAt    time.Time      `json:"issued_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	State       CommandState   `json:"state"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// NewCommand creates a pending command for key.
func NewCommand(key Key, action ServiceAction, now time.Time) *Command {
	return &Command{
		ID:       uuid.NewString(),
		Family:   key.Family,
		Action:   action,
		Target:   key,
		IssuedAt: now,
		State:    CommandPending,
	}
}

// Start moves a pending command to running.
func (c *Command) Start(now time.Time) error {
	if c.State != CommandPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, CommandRunning)
	}
	c.State = CommandRunning
	c.StartedAt = &now
	return nil
}

// Complete moves a running command to completed with the provider result.
func (c *Command) Complete(result map[string]any, now time.Time) error {
	if c.State != CommandRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, CommandCompleted)
	}
	c.State = CommandCompleted
	c.Result = result
	c.CompletedAt = &now
	return nil
}

// Fail moves a non-terminal command to failed.
func (c *Command) Fail(msg string, now time.Time) error {
	if c.State.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, CommandFailed)
	}
	if msg == "" {
		msg = "unknown error"
	}
	c.State = CommandFailed
	c.Error = msg
	c.CompletedAt = &now
	return nil
}

// Clone returns a deep-enough copy for handing out to readers.
func (c Command) Clone() Command {
	if c.Result != nil {
		result := make(map[string]any, len(c.Result))
		for k, v := range c.Result {
			result[k] = v
		}
		c.Result = result
	}
	return c
}
