package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// InventoryEmitter exposes the discovered estate as an info gauge: one
// series per resource with value 1.
type InventoryEmitter struct {
	gauge metric.Int64ObservableGauge

	mu        sync.RWMutex
	resources map[resource.Family][]resource.Resource
}

// NewInventoryEmitter registers the gauge on mp.
func NewInventoryEmitter(mp metric.MeterProvider) (*InventoryEmitter, error) {
	e := &InventoryEmitter{resources: make(map[resource.Family][]resource.Resource)}

	var err error
	e.gauge, err = mp.Meter("cirrus.inventory").Int64ObservableGauge(
		"cirrus.resource.info",
		metric.WithDescription("Discovered cloud resource information"),
		metric.WithUnit("{resource}"),
		metric.WithInt64Callback(e.observe),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource_info gauge: %w", err)
	}
	return e, nil
}

// Emit replaces the inventory. Families that failed this pass keep their
// previous resources.
func (e *InventoryEmitter) Emit(_ context.Context, event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[resource.Family][]resource.Resource, len(event.Snapshot.Resources))
	for f, rs := range event.Snapshot.Resources {
		if _, failed := event.Snapshot.Failed[f]; failed {
			continue
		}
		next[f] = rs
	}
	for f := range event.Snapshot.Failed {
		if prev, ok := e.resources[f]; ok {
			next[f] = prev
		}
	}
	e.resources = next
	return nil
}

// Count returns the number of resources currently exported.
func (e *InventoryEmitter) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, rs := range e.resources {
		n += len(rs)
	}
	return n
}

func (e *InventoryEmitter) observe(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rs := range e.resources {
		for _, r := range rs {
			attrs := []attribute.KeyValue{
				attribute.String("family", string(r.Family)),
				attribute.String("region", r.Region),
				attribute.String("id", r.ID),
				attribute.String("status", string(r.Status)),
				attribute.String("native_status", r.NativeStatus),
			}
			if r.Group != "" {
				attrs = append(attrs, attribute.String("group", r.Group))
			}
			if r.Name != "" {
				attrs = append(attrs, attribute.String("name", r.Name))
			}
			for k, v := range r.Labels {
				if v != "" {
					attrs = append(attrs, attribute.String("label_"+k, v))
				}
			}
			o.Observe(1, metric.WithAttributes(attrs...))
		}
	}
	return nil
}

// Close is a no-op; the gauge lives as long as its meter provider.
func (e *InventoryEmitter) Close() error {
	return nil
}
