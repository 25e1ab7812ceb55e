// Package hook dispatches lifecycle events fired by the session around
// validation, saves, deletes, and commits.
package hook

import (
	"context"

	"github.com/blazeorm/blaze/schema"
)

// Name identifies a lifecycle event.
type Name string

const (
	BeforeValidate Name = "before_validate"
	AfterValidate  Name = "after_validate"
	BeforeSave     Name = "before_save"
	AfterSave      Name = "after_save"
	BeforeDelete   Name = "before_delete"
	AfterDelete    Name = "after_delete"
	AfterCommit    Name = "after_commit"
)

// Event carries the instance the lifecycle event fired for. Created is
// meaningful for save events only and distinguishes inserts from
// updates.
type Event struct {
	Name    Name
	Record  *schema.Record
	Created bool
}

// Handler reacts to a lifecycle event. Returning an error aborts the
// surrounding operation.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher routes events to global handlers and to handlers scoped to
// a single record type. Registration order is preserved; global
// handlers fire before scoped ones. Not safe for concurrent
// registration after dispatch starts; register during setup.
type Dispatcher struct {
	global map[Name][]Handler
	scoped map[Name]map[string][]Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		global: make(map[Name][]Handler),
		scoped: make(map[Name]map[string][]Handler),
	}
}

// On registers a handler for every record type.
func (d *Dispatcher) On(name Name, h Handler) {
	d.global[name] = append(d.global[name], h)
}

// OnType registers a handler scoped to one record type.
func (d *Dispatcher) OnType(name Name, typeName string, h Handler) {
	byType, ok := d.scoped[name]
	if !ok {
		byType = make(map[string][]Handler)
		d.scoped[name] = byType
	}
	byType[typeName] = append(byType[typeName], h)
}

// Fire invokes the handlers registered for the event. The first error
// stops the chain and is returned to the caller.
func (d *Dispatcher) Fire(ctx context.Context, ev Event) error {
	for _, h := range d.global[ev.Name] {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	if ev.Record == nil {
		return nil
	}
	for _, h := range d.scoped[ev.Name][ev.Record.Type().Name] {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
