// Package offline serves a fixture estate through the same adapter and
// handler interfaces as a real provider. Actions mutate the in-memory
// estate so later discoveries observe them.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yairfalse/cirrus/executor"
	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/internal/status"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// Cloud is an in-memory estate.
type Cloud struct {
	mu        sync.Mutex
	resources map[resource.Family][]*resource.Resource
	faults    map[string]string
	snapshots []string
	now       func() time.Time
}

// New builds an estate from fixtures.
func New(f *File) (*Cloud, error) {
	c := &Cloud{
		resources: make(map[resource.Family][]*resource.Resource),
		faults:    make(map[string]string),
		now:       time.Now,
	}
	for _, e := range f.Resources {
		r, err := e.toResource()
		if err != nil {
			return nil, err
		}
		c.resources[r.Family] = append(c.resources[r.Family], &r)
	}
	for k, msg := range f.Faults {
		c.faults[k] = msg
	}
	return c, nil
}

// Adapters returns one adapter per family, including families without fixtures.
func (c *Cloud) Adapters() []plugin.Adapter {
	families := resource.Families()
	adapters := make([]plugin.Adapter, 0, len(families))
	for _, f := range families {
		adapters = append(adapters, adapter{family: f, cloud: c})
	}
	return adapters
}

// Handlers returns simulated handlers for the same families the AWS plugin
// supports, with the same kinds.
func (c *Cloud) Handlers() []executor.Handler {
	return []executor.Handler{
		&serviceHandler{handler{cloud: c, family: resource.FamilyService, kinds: []resource.ActionKind{
			resource.ActionStart, resource.ActionStop, resource.ActionScale, resource.ActionModify,
		}}},
		&handler{cloud: c, family: resource.FamilyDatabase, kinds: []resource.ActionKind{
			resource.ActionStart, resource.ActionStop, resource.ActionRestart, resource.ActionModify, resource.ActionSnapshot,
		}},
		&handler{cloud: c, family: resource.FamilyCache, kinds: []resource.ActionKind{
			resource.ActionRestart, resource.ActionModify, resource.ActionSnapshot,
		}},
		&handler{cloud: c, family: resource.FamilyInstance, kinds: []resource.ActionKind{
			resource.ActionStart, resource.ActionStop, resource.ActionRestart, resource.ActionModify,
		}},
		&handler{cloud: c, family: resource.FamilyDistribution, kinds: []resource.ActionKind{
			resource.ActionStart, resource.ActionStop,
		}},
	}
}

// Snapshots lists the snapshot identifiers created so far.
func (c *Cloud) Snapshots() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.snapshots...)
}

// SetFault makes every action on key fail with msg. An empty msg clears it.
func (c *Cloud) SetFault(key resource.Key, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg == "" {
		delete(c.faults, key.String())
		return
	}
	c.faults[key.String()] = msg
}

func (c *Cloud) list(family resource.Family) []resource.Resource {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]resource.Resource, 0, len(c.resources[family]))
	for _, r := range c.resources[family] {
		cp := *r
		cp.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			cp.Labels[k] = v
		}
		cp.ScannedAt = now
		out = append(out, cp)
	}
	return out
}

// mutate runs fn on the addressed resource under the lock and refreshes its
// canonical status afterwards.
func (c *Cloud) mutate(key resource.Key, fn func(r *resource.Resource) (map[string]any, error)) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg, ok := c.faults[key.String()]; ok {
		return nil, errors.New(msg)
	}

	for _, r := range c.resources[key.Family] {
		if !key.Matches(*r) {
			continue
		}
		result, err := fn(r)
		if err != nil {
			return nil, err
		}
		r.Status = status.Map(r.Family, r.NativeStatus)
		return result, nil
	}
	return nil, fmt.Errorf("%w: %s", resource.ErrNotFound, key)
}

type adapter struct {
	family resource.Family
	cloud  *Cloud
}

func (a adapter) Family() resource.Family { return a.family }

func (a adapter) Discover(ctx context.Context) ([]resource.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.cloud.list(a.family), nil
}
