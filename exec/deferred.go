package exec

import (
	"context"
	"sync"

	"github.com/bawdo/relq/qerrors"
)

// Deferred is an association loaded on first use. It keeps the runtime and
// the outer row it was read with, so the runtime must outlive it.
type Deferred struct {
	mu     sync.Mutex
	unit   *queryUnit
	env    *env
	loaded bool
	value  any
}

// Load runs the association query once and returns its result; later calls
// return the same value. A failed load may be retried.
func (d *Deferred) Load(ctx context.Context) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return d.value, nil
	}
	e := d.env
	e.ctx = ctx
	v, err := d.unit.value(e)
	if cerr := e.release(); err == nil && cerr != nil {
		err = qerrors.Wrap(qerrors.ErrRuntime, "close", cerr)
	}
	if err != nil {
		return nil, err
	}
	d.value, d.loaded, d.env = v, true, nil
	return v, nil
}

// Loaded reports whether Load has succeeded.
func (d *Deferred) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *Deferred) String() string {
	if d.Loaded() {
		return "Deferred(loaded)"
	}
	return "Deferred"
}
