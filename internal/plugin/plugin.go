// Package plugin defines the discovery adapter contract and the registry
// that fans discovery out across adapters.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// DefaultCallTimeout bounds one adapter's discovery pass.
const DefaultCallTimeout = 20 * time.Second

// Snapshot.Failed reasons for families that were never called.
const (
	ReasonDisabled  = "disabled: "
	ReasonNoAdapter = "no adapter"
)

// Adapter enumerates the resources of one family.
// Keep it simple: Family + Discover.
type Adapter interface {
	// Family returns the resource family this adapter owns.
	Family() resource.Family

	// Discover returns the current resources of the family.
	// Partial failures inside the adapter are logged and skipped.
	Discover(ctx context.Context) ([]resource.Resource, error)
}

// Snapshot is the outcome of one DiscoverAll pass.
type Snapshot struct {
	Resources map[resource.Family][]resource.Resource
	// Failed holds families whose adapter errored, timed out or is disabled.
	// An empty family listed here is unknown, not empty.
	Failed   map[resource.Family]string
	TakenAt  time.Time
	Duration time.Duration
}

// All flattens the snapshot in family order.
func (s Snapshot) All() []resource.Resource {
	var out []resource.Resource
	for _, f := range s.families() {
		out = append(out, s.Resources[f]...)
	}
	return out
}

// Count returns the total number of resources.
func (s Snapshot) Count() int {
	n := 0
	for _, rs := range s.Resources {
		n += len(rs)
	}
	return n
}

// Find looks a resource up by key.
func (s Snapshot) Find(key resource.Key) (resource.Resource, bool) {
	r, err := s.Lookup(key)
	return r, err == nil
}

// Lookup is Find with the reason a key did not resolve: ErrNotFound, or
// ErrAmbiguousKey when a key without a group matches in several groups.
func (s Snapshot) Lookup(key resource.Key) (resource.Resource, error) {
	var (
		found resource.Resource
		n     int
	)
	for _, r := range s.Resources[key.Family] {
		if key.Matches(r) {
			found = r
			n++
		}
	}
	switch n {
	case 0:
		return resource.Resource{}, fmt.Errorf("%w: %s", resource.ErrNotFound, key)
	case 1:
		return found, nil
	default:
		return resource.Resource{}, fmt.Errorf("%w: %s", resource.ErrAmbiguousKey, key)
	}
}

// AdapterFailures returns the families whose adapter was called and failed.
// Disabled and unregistered families are not counted.
func (s Snapshot) AdapterFailures() []resource.Family {
	var out []resource.Family
	for f, reason := range s.Failed {
		if IsAdapterFailure(reason) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsAdapterFailure reports whether a Failed reason came from a called adapter.
func IsAdapterFailure(reason string) bool {
	return !strings.HasPrefix(reason, ReasonDisabled) && reason != ReasonNoAdapter
}

func (s Snapshot) families() []resource.Family {
	known := resource.Families()
	seen := make(map[resource.Family]bool, len(known))
	for _, f := range known {
		seen[f] = true
	}
	var extra []resource.Family
	for f := range s.Resources {
		if !seen[f] {
			extra = append(extra, f)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(known, extra...)
}

// Registry holds the adapters of one control plane. It is not global:
// each control plane owns its own.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[resource.Family]Adapter
	disabled    map[resource.Family]string
	callTimeout time.Duration
	last        *Snapshot
	now         func() time.Time
}

// NewRegistry creates an empty registry. A zero callTimeout uses DefaultCallTimeout.
func NewRegistry(callTimeout time.Duration) *Registry {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Registry{
		adapters:    make(map[resource.Family]Adapter),
		disabled:    make(map[resource.Family]string),
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Register adds an adapter, replacing any previous adapter for the family.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Family()] = a
}

// Disable marks a family as unreachable from this environment. Its adapter
// is never called and the family always discovers empty.
func (r *Registry) Disable(family resource.Family, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[family] = reason
}

// Get returns the adapter for a family.
func (r *Registry) Get(family resource.Family) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[family]
	return a, ok
}

// Families returns every known family plus any extra registered ones.
func (r *Registry) Families() []resource.Family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	families := resource.Families()
	for f := range r.adapters {
		if !f.Valid() {
			families = append(families, f)
		}
	}
	return families
}

// DiscoverAll runs every adapter concurrently, each under its own timeout.
// It never fails: an adapter that errors, panics or times out contributes
// an empty slice and a warning. The result has one entry per known family.
func (r *Registry) DiscoverAll(ctx context.Context) Snapshot {
	start := r.now()
	families := r.Families()

	snap := Snapshot{
		Resources: make(map[resource.Family][]resource.Resource, len(families)),
		Failed:    make(map[resource.Family]string),
		TakenAt:   start,
	}
	for _, f := range families {
		snap.Resources[f] = []resource.Resource{}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, f := range families {
		r.mu.RLock()
		adapter, ok := r.adapters[f]
		reason, disabled := r.disabled[f]
		r.mu.RUnlock()

		switch {
		case disabled:
			snap.Failed[f] = ReasonDisabled + reason
			continue
		case !ok:
			snap.Failed[f] = ReasonNoAdapter
			continue
		}

		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			result := r.discoverOne(ctx, a)

			mu.Lock()
			defer mu.Unlock()
			if result.Error != nil {
				snap.Failed[result.Family] = result.Error.Error()
				log.Warn().Err(result.Error).Str("family", string(result.Family)).Dur("duration", result.Duration).Msg("discovery failed")
				return
			}
			snap.Resources[result.Family] = result.Resources
			log.Debug().Str("family", string(result.Family)).Int("count", len(result.Resources)).Dur("duration", result.Duration).Msg("discovery complete")
		}(adapter)
	}

	wg.Wait()
	snap.Duration = r.now().Sub(start)

	r.mu.Lock()
	r.last = &snap
	r.mu.Unlock()

	return snap
}

func (r *Registry) discoverOne(ctx context.Context, a Adapter) (res resource.ScanResult) {
	res.Family = a.Family()
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if p := recover(); p != nil {
			res.Resources = nil
			res.Error = fmt.Errorf("adapter panic: %v", p)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	type outcome struct {
		resources []resource.Resource
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("adapter panic: %v", p)}
			}
		}()
		rs, err := a.Discover(callCtx)
		done <- outcome{resources: rs, err: err}
	}()

	select {
	case o := <-done:
		res.Resources, res.Error = o.resources, o.err
	case <-callCtx.Done():
		res.Error = fmt.Errorf("discover %s: %w", res.Family, callCtx.Err())
	}
	if res.Error == nil && res.Resources == nil {
		res.Resources = []resource.Resource{}
	}
	return res
}

// Last returns the most recent snapshot, if any.
func (r *Registry) Last() (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Snapshot{}, false
	}
	return *r.last, true
}
