package rebus

import (
	"context"
	"sync"
)

// TransactionContext scopes one unit of work. Transports stage outgoing
// messages and register settlement callbacks on it; the driver of the unit of
// work walks it through its lifecycle:
//
//	tx := rebus.NewTransactionContext()
//	defer tx.Dispose()
//	// ... Send/Receive against tx ...
//	if err := tx.Commit(ctx); err != nil {
//		tx.Abort(ctx)
//		return err
//	}
//	return tx.Complete(ctx)
//
// Commit hooks run at most once, in registration order. Complete and Abort
// are mutually exclusive and run their hooks at most once. Dispose always
// runs, is idempotent, and fires its hooks in reverse registration order so
// scoped resources (timers, renewal tasks) are released on every exit path.
type TransactionContext struct {
	itemMu sync.RWMutex
	items  map[string]any

	hookMu      sync.Mutex
	onCommit    []func(context.Context) error
	onCompleted []func(context.Context) error
	onAborted   []func(context.Context) error
	onDisposed  []func()
	committed   bool
	settled     bool
	disposed    bool
}

func NewTransactionContext() *TransactionContext {
	return &TransactionContext{items: make(map[string]any)}
}

// Set stores a value in the context's item storage.
func (c *TransactionContext) Set(key string, value any) {
	c.itemMu.Lock()
	defer c.itemMu.Unlock()
	c.items[key] = value
}

// Value looks up a stored item.
func (c *TransactionContext) Value(key string) (any, bool) {
	c.itemMu.RLock()
	defer c.itemMu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Delete removes a stored item.
func (c *TransactionContext) Delete(key string) {
	c.itemMu.Lock()
	defer c.itemMu.Unlock()
	delete(c.items, key)
}

// GetOrAdd returns the value stored under key, invoking factory to create it
// on first use. Concurrent callers observe the same instance. The factory may
// register hooks but must not touch the item storage.
func (c *TransactionContext) GetOrAdd(key string, factory func() any) any {
	c.itemMu.RLock()
	v, ok := c.items[key]
	c.itemMu.RUnlock()
	if ok {
		return v
	}

	c.itemMu.Lock()
	defer c.itemMu.Unlock()
	if v, ok := c.items[key]; ok {
		return v
	}
	v = factory()
	c.items[key] = v
	return v
}

// OnCommit registers a callback to run when the unit of work commits.
func (c *TransactionContext) OnCommit(fn func(context.Context) error) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onCommit = append(c.onCommit, fn)
}

// OnCompleted registers a callback to run when the unit of work has finished
// successfully, after commit.
func (c *TransactionContext) OnCompleted(fn func(context.Context) error) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onCompleted = append(c.onCompleted, fn)
}

// OnAborted registers a callback to run when the unit of work fails.
func (c *TransactionContext) OnAborted(fn func(context.Context) error) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onAborted = append(c.onAborted, fn)
}

// OnDisposed registers a callback that runs unconditionally when the context
// is disposed.
func (c *TransactionContext) OnDisposed(fn func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onDisposed = append(c.onDisposed, fn)
}

// Commit runs the commit hooks in registration order, stopping at the first
// error. Subsequent calls are no-ops.
func (c *TransactionContext) Commit(ctx context.Context) error {
	c.hookMu.Lock()
	if c.committed {
		c.hookMu.Unlock()
		return nil
	}
	c.committed = true
	hooks := c.onCommit
	c.onCommit = nil
	c.hookMu.Unlock()

	for _, fn := range hooks {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Complete runs the completed hooks. All hooks run even if one fails; the
// first error is returned. No-op once the context has been settled either way.
func (c *TransactionContext) Complete(ctx context.Context) error {
	return c.settle(ctx, true)
}

// Abort runs the aborted hooks. All hooks run even if one fails; the first
// error is returned. No-op once the context has been settled either way.
func (c *TransactionContext) Abort(ctx context.Context) error {
	return c.settle(ctx, false)
}

func (c *TransactionContext) settle(ctx context.Context, completed bool) error {
	c.hookMu.Lock()
	if c.settled {
		c.hookMu.Unlock()
		return nil
	}
	c.settled = true
	hooks := c.onAborted
	if completed {
		hooks = c.onCompleted
	}
	c.onCompleted = nil
	c.onAborted = nil
	c.hookMu.Unlock()

	var firstErr error
	for _, fn := range hooks {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dispose fires the disposed hooks in reverse registration order. Idempotent.
func (c *TransactionContext) Dispose() {
	c.hookMu.Lock()
	if c.disposed {
		c.hookMu.Unlock()
		return
	}
	c.disposed = true
	hooks := c.onDisposed
	c.onDisposed = nil
	c.hookMu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}
