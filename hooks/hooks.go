package hooks

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrUnknownEvent the event is not known to the target
	ErrUnknownEvent = errors.New("unknown hook event")
	// ErrDuplicateListener a listener with the same name is already registered
	ErrDuplicateListener = errors.New("hook listener already registered")
	// ErrAsyncInSync a listener returned a pending result from a synchronous hook
	ErrAsyncInSync = errors.New("asynchronous listener in synchronous hook")
)

// Model lifecycle events
const (
	BeforeValidate                  = "beforeValidate"
	AfterValidate                   = "afterValidate"
	ValidationFailed                = "validationFailed"
	BeforeCreate                    = "beforeCreate"
	AfterCreate                     = "afterCreate"
	BeforeDestroy                   = "beforeDestroy"
	AfterDestroy                    = "afterDestroy"
	BeforeRestore                   = "beforeRestore"
	AfterRestore                    = "afterRestore"
	BeforeUpdate                    = "beforeUpdate"
	AfterUpdate                     = "afterUpdate"
	BeforeSave                      = "beforeSave"
	AfterSave                       = "afterSave"
	BeforeUpsert                    = "beforeUpsert"
	AfterUpsert                     = "afterUpsert"
	BeforeBulkCreate                = "beforeBulkCreate"
	AfterBulkCreate                 = "afterBulkCreate"
	BeforeBulkDestroy               = "beforeBulkDestroy"
	AfterBulkDestroy                = "afterBulkDestroy"
	BeforeBulkRestore               = "beforeBulkRestore"
	AfterBulkRestore                = "afterBulkRestore"
	BeforeBulkUpdate                = "beforeBulkUpdate"
	AfterBulkUpdate                 = "afterBulkUpdate"
	BeforeFind                      = "beforeFind"
	BeforeFindAfterExpandIncludeAll = "beforeFindAfterExpandIncludeAll"
	BeforeFindAfterOptions          = "beforeFindAfterOptions"
	AfterFind                       = "afterFind"
	BeforeCount                     = "beforeCount"
	BeforeDefine                    = "beforeDefine"
	AfterDefine                     = "afterDefine"
	BeforeInit                      = "beforeInit"
	AfterInit                       = "afterInit"
	BeforeAssociate                 = "beforeAssociate"
	AfterAssociate                  = "afterAssociate"
)

// ModelEvents every event a model hook registry accepts
var ModelEvents = []string{
	BeforeValidate, AfterValidate, ValidationFailed,
	BeforeCreate, AfterCreate, BeforeDestroy, AfterDestroy, BeforeRestore, AfterRestore,
	BeforeUpdate, AfterUpdate, BeforeSave, AfterSave, BeforeUpsert, AfterUpsert,
	BeforeBulkCreate, AfterBulkCreate, BeforeBulkDestroy, AfterBulkDestroy,
	BeforeBulkRestore, AfterBulkRestore, BeforeBulkUpdate, AfterBulkUpdate,
	BeforeFind, BeforeFindAfterExpandIncludeAll, BeforeFindAfterOptions, AfterFind,
	BeforeCount, BeforeAssociate, AfterAssociate,
}

// DBEvents every event a model set hook registry accepts
var DBEvents = []string{BeforeDefine, AfterDefine, BeforeInit, AfterInit}

// Result is what a listener returns: done, failed, or pending on a channel that
// delivers exactly one error (nil for success)
type Result struct {
	err  error
	wait <-chan error
}

// Ok listener finished
func Ok() Result { return Result{} }

// Fail listener failed with err
func Fail(err error) Result { return Result{err: err} }

// Await listener continues asynchronously and reports on wait
func Await(wait <-chan error) Result { return Result{wait: wait} }

// Pending reports an asynchronous result
func (r Result) Pending() bool { return r.wait != nil }

// Err returns the failure of a finished result
func (r Result) Err() error { return r.err }

// Listener hook listener, args are shared with the caller and may be mutated
type Listener func(ctx context.Context, args ...interface{}) Result

type listener struct {
	name string
	fn   Listener
}

// Registry named listeners per event for one target
type Registry struct {
	target    string
	events    map[string]struct{}
	mu        sync.RWMutex
	listeners map[string][]listener
}

// New creates a registry for target accepting the given events
func New(target string, events ...string) *Registry {
	known := make(map[string]struct{}, len(events))
	for _, event := range events {
		known[event] = struct{}{}
	}
	return &Registry{target: target, events: known, listeners: map[string][]listener{}}
}

// Target returns the name used in error messages
func (r *Registry) Target() string {
	return r.target
}

func (r *Registry) check(event string) error {
	if _, ok := r.events[event]; !ok {
		return fmt.Errorf("%w: %q is not a valid hook of %s", ErrUnknownEvent, event, r.target)
	}
	return nil
}

// AddListener appends fn to event, a non empty name must be unique for the event
func (r *Registry) AddListener(event string, fn Listener, name ...string) error {
	if err := r.check(event); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	l := listener{fn: fn}
	if len(name) > 0 && name[0] != "" {
		l.name = name[0]
		for _, existing := range r.listeners[event] {
			if existing.name == l.name {
				return fmt.Errorf("%w: %q on %s of %s", ErrDuplicateListener, l.name, event, r.target)
			}
		}
	}
	r.listeners[event] = append(r.listeners[event], l)
	return nil
}

// RemoveListener removes listeners of event matching a name or a Listener by identity
func (r *Registry) RemoveListener(event string, nameOrListener interface{}) error {
	if err := r.check(event); err != nil {
		return err
	}

	match := func(l listener) bool { return false }
	switch v := nameOrListener.(type) {
	case string:
		match = func(l listener) bool { return l.name == v }
	case Listener:
		ptr := reflect.ValueOf(v).Pointer()
		match = func(l listener) bool { return reflect.ValueOf(l.fn).Pointer() == ptr }
	case func(context.Context, ...interface{}) Result:
		ptr := reflect.ValueOf(v).Pointer()
		match = func(l listener) bool { return reflect.ValueOf(l.fn).Pointer() == ptr }
	default:
		return fmt.Errorf("cannot remove listener of %s by %T", r.target, nameOrListener)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]listener, 0, len(r.listeners[event]))
	for _, l := range r.listeners[event] {
		if !match(l) {
			kept = append(kept, l)
		}
	}
	r.listeners[event] = kept
	return nil
}

// RemoveAll clears every event
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = map[string][]listener{}
}

// HasListeners reports whether event has at least one listener
func (r *Registry) HasListeners(event string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[event]) > 0
}

func (r *Registry) snapshot(event string) ([]listener, error) {
	if err := r.check(event); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]listener(nil), r.listeners[event]...), nil
}

// RunSync invokes listeners in registration order, a pending result is a programming error
func (r *Registry) RunSync(ctx context.Context, event string, args ...interface{}) error {
	listeners, err := r.snapshot(event)
	if err != nil {
		return err
	}

	for _, l := range listeners {
		result := l.fn(ctx, args...)
		if result.Pending() {
			return fmt.Errorf("%w: %s of %s", ErrAsyncInSync, event, r.target)
		}
		if result.err != nil {
			return result.err
		}
	}
	return nil
}

// RunAsync invokes listeners in registration order, waiting for each one before the next
func (r *Registry) RunAsync(ctx context.Context, event string, args ...interface{}) error {
	listeners, err := r.snapshot(event)
	if err != nil {
		return err
	}

	for _, l := range listeners {
		result := l.fn(ctx, args...)
		if result.Pending() {
			select {
			case err := <-result.wait:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if result.err != nil {
			return result.err
		}
	}
	return nil
}
