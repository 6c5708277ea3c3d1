package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yairfalse/cirrus/internal/clock"
	"github.com/yairfalse/cirrus/pkg/resource"
	"github.com/yairfalse/cirrus/wal"
)

var errEngineClosed = errors.New("engine closed")

// Engine executes actions against family handlers
type Engine struct {
	handlers map[resource.Family]Handler
	recorder Recorder
	journal  Journal
	clock    clock.Clock
	limiter  *rate.Limiter
	options  Options

	mu      sync.Mutex
	pending map[string]*DeferredTask
	closed  bool
	fires   sync.WaitGroup
	// changed is closed and replaced whenever a task leaves pending.
	changed chan struct{}

	// ctx outlives individual requests; deferred tasks run under it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a new executor engine
func NewEngine(handlers []Handler, recorder Recorder, options Options) *Engine {
	defaults := DefaultOptions()
	if options.RestartGrace <= 0 {
		options.RestartGrace = defaults.RestartGrace
	}
	if options.CallTimeout <= 0 {
		options.CallTimeout = defaults.CallTimeout
	}
	if options.BatchConcurrency <= 0 {
		options.BatchConcurrency = defaults.BatchConcurrency
	}
	if options.Burst <= 0 {
		options.Burst = defaults.Burst
	}
	if options.Clock == nil {
		options.Clock = clock.Real{}
	}

	limit := rate.Inf
	if options.RateLimit > 0 {
		limit = rate.Limit(options.RateLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		handlers: make(map[resource.Family]Handler, len(handlers)),
		recorder: recorder,
		journal:  options.Journal,
		clock:    options.Clock,
		limiter:  rate.NewLimiter(limit, options.Burst),
		options:  options,
		pending:  make(map[string]*DeferredTask),
		changed:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, h := range handlers {
		e.handlers[h.Family()] = h
	}
	return e
}

// Families returns the families that have a handler.
func (e *Engine) Families() []resource.Family {
	out := make([]resource.Family, 0, len(e.handlers))
	for f := range e.handlers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Supports reports the action kinds available for a family, including
// emulated ones.
func (e *Engine) Supports(family resource.Family) []resource.ActionKind {
	h, ok := e.handlers[family]
	if !ok {
		return nil
	}
	kinds := slices.Clone(h.Kinds())
	if _, ok := h.(Scaler); ok && !slices.Contains(kinds, resource.ActionRestart) {
		kinds = append(kinds, resource.ActionRestart)
	}
	return kinds
}

// Execute runs one action and records the outcome. The returned command is
// always non-nil and already appended to history. Precondition failures
// return ErrUnsupportedFamily, ErrUnsupportedAction or ErrValidation;
// provider failures return a *resource.ProviderError.
func (e *Engine) Execute(ctx context.Context, key resource.Key, action resource.ServiceAction) (*resource.Command, error) {
	cmd := resource.NewCommand(key.Canonical(), action, e.clock.Now())
	err := e.run(ctx, cmd)
	e.record(cmd)
	return cmd, err
}

func (e *Engine) run(ctx context.Context, cmd *resource.Command) error {
	key, action := cmd.Target, cmd.Action
	e.journalAppend(wal.EntryIssued, cmd, nil)

	h, ok := e.handlers[key.Family]
	if !ok {
		return e.reject(cmd, fmt.Errorf("%w: %s", resource.ErrUnsupportedFamily, key.Family))
	}

	scaler, emulated := e.emulatesRestart(h, action.Kind)
	if !emulated && !slices.Contains(h.Kinds(), action.Kind) {
		return e.reject(cmd, fmt.Errorf("%w: %s is not supported for %s", resource.ErrUnsupportedAction, action.Kind, key.Family))
	}

	if err := validateAction(h, action); err != nil {
		return e.reject(cmd, err)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return e.reject(cmd, fmt.Errorf("wait for rate limiter: %w", err))
	}

	if err := cmd.Start(e.clock.Now()); err != nil {
		return err
	}
	e.journalAppend(wal.EntryRunning, cmd, nil)

	log.Info().
		Str("command", cmd.ID).
		Str("target", key.String()).
		Str("action", string(action.Kind)).
		Bool("emulated", emulated).
		Msg("executing action")

	var (
		result map[string]any
		err    error
	)
	if emulated {
		result, err = e.restart(ctx, scaler, cmd)
	} else {
		result, err = e.call(ctx, func(callCtx context.Context) (map[string]any, error) {
			return h.Execute(callCtx, key, action)
		})
	}
	if err != nil {
		err = e.providerError(key.Family, action.Kind, err)
		_ = cmd.Fail(err.Error(), e.clock.Now())
		e.journalAppend(wal.EntryFailed, cmd, err)
		log.Warn().Err(err).Str("command", cmd.ID).Str("target", key.String()).Msg("action failed")
		return err
	}

	if result == nil {
		result = map[string]any{}
	}
	_ = cmd.Complete(result, e.clock.Now())
	e.journalAppend(wal.EntryCompleted, cmd, nil)
	log.Info().Str("command", cmd.ID).Str("target", key.String()).Msg("action completed")
	return nil
}

// emulatesRestart reports whether restart must be emulated for h.
func (e *Engine) emulatesRestart(h Handler, kind resource.ActionKind) (Scaler, bool) {
	if kind != resource.ActionRestart || slices.Contains(h.Kinds(), resource.ActionRestart) {
		return nil, false
	}
	scaler, ok := h.(Scaler)
	return scaler, ok
}

func (e *Engine) call(ctx context.Context, fn func(context.Context) (map[string]any, error)) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.options.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// restart scales to zero now and schedules the scale back.
func (e *Engine) restart(ctx context.Context, scaler Scaler, cmd *resource.Command) (map[string]any, error) {
	if e.isClosed() {
		return nil, errEngineClosed
	}

	desired := scaler.DefaultCount()
	if cmd.Action.Params.Count != nil && *cmd.Action.Params.Count > 0 {
		desired = *cmd.Action.Params.Count
	}

	result, err := e.call(ctx, func(callCtx context.Context) (map[string]any, error) {
		return scaler.ScaleTo(callCtx, cmd.Target, 0)
	})
	if err != nil {
		return nil, err
	}

	task, err := e.schedule(cmd, desired)
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = map[string]any{}
	}
	result["message"] = "restart initiated"
	result["scale_back_task"] = task.ID
	result["scale_back_count"] = desired
	result["scale_back_at"] = task.DueAt
	return result, nil
}

func (e *Engine) schedule(parent *resource.Command, count int32) (*DeferredTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errEngineClosed
	}

	task := &DeferredTask{
		ID:       uuid.NewString(),
		ParentID: parent.ID,
		Target:   parent.Target,
		Count:    count,
		DueAt:    e.clock.Now().Add(e.options.RestartGrace),
	}
	task.timer = e.clock.AfterFunc(e.options.RestartGrace, func() { e.fire(task.ID) })
	e.pending[task.ID] = task

	if e.journal != nil {
		if err := e.journal.Append(wal.EntryDeferred, task.Target.String(), task); err != nil {
			log.Warn().Err(err).Msg("journal deferred task")
		}
	}
	return task, nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// fire runs a due scale-back as its own command.
func (e *Engine) fire(id string) {
	e.mu.Lock()
	task, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
		e.fires.Add(1)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	defer e.fires.Done()
	e.signal()

	action := resource.ServiceAction{
		Kind:   resource.ActionScale,
		Params: resource.Params{Count: resource.Int32(task.Count)},
	}
	cmd := resource.NewCommand(task.Target, action, e.clock.Now())
	cmd.ParentID = task.ParentID

	if err := e.run(e.ctx, cmd); err != nil {
		log.Error().Err(err).
			Str("target", task.Target.String()).
			Str("parent", task.ParentID).
			Msg("scale back after restart failed; resource may be left at zero capacity")
	}
	e.record(cmd)
}

// Pending returns the scheduled deferred tasks, soonest first.
func (e *Engine) Pending() []DeferredTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]DeferredTask, 0, len(e.pending))
	for _, t := range e.pending {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b DeferredTask) int { return a.DueAt.Compare(b.DueAt) })
	return out
}

// Cancel stops a pending deferred task. It reports false if the task
// already fired or does not exist.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	task, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	defer e.signal()
	task.timer.Stop()
	e.journalTask(wal.EntryCancelled, task)
	log.Warn().Str("task", id).Str("target", task.Target.String()).Msg("deferred scale back cancelled")
	return true
}

// Wait blocks until every pending deferred task has fired or been
// cancelled and the scale-backs already running are recorded. It returns
// ctx.Err() if ctx ends first; the tasks stay pending.
func (e *Engine) Wait(ctx context.Context) error {
	for {
		e.mu.Lock()
		n, changed := len(e.pending), e.changed
		e.mu.Unlock()

		if n == 0 {
			e.fires.Wait()
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// signal wakes Wait callers.
func (e *Engine) signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.changed)
	e.changed = make(chan struct{})
}

// Close cancels every pending deferred task and waits for running ones.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	tasks := make([]*DeferredTask, 0, len(e.pending))
	for id, t := range e.pending {
		tasks = append(tasks, t)
		delete(e.pending, id)
	}
	e.mu.Unlock()

	for _, t := range tasks {
		t.timer.Stop()
		e.journalTask(wal.EntryCancelled, t)
		log.Warn().Str("task", t.ID).Str("target", t.Target.String()).Msg("deferred scale back cancelled on shutdown")
	}

	e.signal()
	e.cancel()
	e.fires.Wait()
	return nil
}

// ExecuteBatch applies one action to many resources independently. Order of
// results follows keys. One failure never aborts the others.
func (e *Engine) ExecuteBatch(ctx context.Context, keys []resource.Key, action resource.ServiceAction) BatchResult {
	cmds := make([]*resource.Command, len(keys))
	errs := make([]error, len(keys))

	var g errgroup.Group
	g.SetLimit(e.options.BatchConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			cmds[i], errs[i] = e.Execute(ctx, key, action)
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{
		Successful: []resource.Key{},
		Failed:     []BatchFailure{},
		Commands:   cmds,
	}
	for i, key := range keys {
		if errs[i] != nil {
			result.Failed = append(result.Failed, BatchFailure{Target: key, Error: errs[i].Error()})
			continue
		}
		result.Successful = append(result.Successful, key)
	}
	return result
}

// reject fails a command before any provider call.
func (e *Engine) reject(cmd *resource.Command, err error) error {
	_ = cmd.Fail(err.Error(), e.clock.Now())
	e.journalAppend(wal.EntryFailed, cmd, err)
	log.Warn().Err(err).Str("command", cmd.ID).Str("target", cmd.Target.String()).Msg("action rejected")
	return err
}

func (e *Engine) providerError(family resource.Family, kind resource.ActionKind, err error) error {
	if errors.Is(err, resource.ErrValidation) ||
		errors.Is(err, resource.ErrUnsupportedAction) ||
		errors.Is(err, resource.ErrUnsupportedFamily) ||
		errors.Is(err, errEngineClosed) ||
		resource.IsProviderError(err) {
		return err
	}
	return &resource.ProviderError{Family: family, Op: string(kind), Err: err}
}

func (e *Engine) record(cmd *resource.Command) {
	if e.recorder != nil {
		e.recorder.Append(cmd.Clone())
	}
}

func (e *Engine) journalAppend(typ wal.EntryType, cmd *resource.Command, err error) {
	if e.journal == nil {
		return
	}
	var jerr error
	if err != nil {
		jerr = e.journal.AppendError(typ, cmd.Target.String(), cmd, err)
	} else {
		jerr = e.journal.Append(typ, cmd.Target.String(), cmd)
	}
	if jerr != nil {
		log.Warn().Err(jerr).Str("command", cmd.ID).Msg("journal append failed")
	}
}

func (e *Engine) journalTask(typ wal.EntryType, task *DeferredTask) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(typ, task.Target.String(), task); err != nil {
		log.Warn().Err(err).Str("task", task.ID).Msg("journal append failed")
	}
}
