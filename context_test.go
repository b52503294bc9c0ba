package rebus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionContext_Items(t *testing.T) {
	tx := NewTransactionContext()
	defer tx.Dispose()

	_, ok := tx.Value("missing")
	assert.False(t, ok)

	tx.Set("key", 42)
	v, ok := tx.Value("key")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	tx.Delete("key")
	_, ok = tx.Value("key")
	assert.False(t, ok)
}

func TestTransactionContext_GetOrAdd(t *testing.T) {
	tx := NewTransactionContext()
	defer tx.Dispose()

	calls := 0
	factory := func() any {
		calls++
		return &calls
	}

	first := tx.GetOrAdd("key", factory)
	second := tx.GetOrAdd("key", factory)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestTransactionContext_GetOrAddConcurrent(t *testing.T) {
	tx := NewTransactionContext()
	defer tx.Dispose()

	results := make([]any, 16)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = tx.GetOrAdd("key", func() any { return new(int) })
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestTransactionContext_CommitOrder(t *testing.T) {
	tx := NewTransactionContext()
	defer tx.Dispose()

	var order []string
	tx.OnCommit(func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	tx.OnCommit(func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	require.NoError(t, tx.Commit(context.Background()))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestTransactionContext_CommitStopsAtFirstError(t *testing.T) {
	tx := NewTransactionContext()
	defer tx.Dispose()

	boom := errors.New("boom")
	ran := false
	tx.OnCommit(func(context.Context) error { return boom })
	tx.OnCommit(func(context.Context) error { ran = true; return nil })

	assert.ErrorIs(t, tx.Commit(context.Background()), boom)
	assert.False(t, ran, "hooks after the failing one must not run")
}

func TestTransactionContext_CommitOnce(t *testing.T) {
	tx := NewTransactionContext()
	defer tx.Dispose()

	runs := 0
	tx.OnCommit(func(context.Context) error { runs++; return nil })

	require.NoError(t, tx.Commit(context.Background()))
	require.NoError(t, tx.Commit(context.Background()))
	assert.Equal(t, 1, runs)
}

func TestTransactionContext_SettlementIsExclusive(t *testing.T) {
	t.Run("CompleteBlocksAbort", func(t *testing.T) {
		tx := NewTransactionContext()
		defer tx.Dispose()

		completed, aborted := 0, 0
		tx.OnCompleted(func(context.Context) error { completed++; return nil })
		tx.OnAborted(func(context.Context) error { aborted++; return nil })

		require.NoError(t, tx.Complete(context.Background()))
		require.NoError(t, tx.Abort(context.Background()))
		assert.Equal(t, 1, completed)
		assert.Zero(t, aborted)
	})

	t.Run("AbortBlocksComplete", func(t *testing.T) {
		tx := NewTransactionContext()
		defer tx.Dispose()

		completed, aborted := 0, 0
		tx.OnCompleted(func(context.Context) error { completed++; return nil })
		tx.OnAborted(func(context.Context) error { aborted++; return nil })

		require.NoError(t, tx.Abort(context.Background()))
		require.NoError(t, tx.Complete(context.Background()))
		assert.Equal(t, 1, aborted)
		assert.Zero(t, completed)
	})
}

func TestTransactionContext_SettlementRunsAllHooks(t *testing.T) {
	tx := NewTransactionContext()
	defer tx.Dispose()

	first := errors.New("first")
	ran := false
	tx.OnCompleted(func(context.Context) error { return first })
	tx.OnCompleted(func(context.Context) error { ran = true; return errors.New("second") })

	assert.ErrorIs(t, tx.Complete(context.Background()), first)
	assert.True(t, ran, "a failing hook must not stop the rest")
}

func TestTransactionContext_DisposeReverseOrder(t *testing.T) {
	tx := NewTransactionContext()

	var order []string
	tx.OnDisposed(func() { order = append(order, "first") })
	tx.OnDisposed(func() { order = append(order, "second") })

	tx.Dispose()
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestTransactionContext_DisposeIdempotent(t *testing.T) {
	tx := NewTransactionContext()

	runs := 0
	tx.OnDisposed(func() { runs++ })

	tx.Dispose()
	tx.Dispose()
	assert.Equal(t, 1, runs)
}

func TestTransactionContext_DisposeWithoutSettling(t *testing.T) {
	tx := NewTransactionContext()

	released := false
	tx.OnDisposed(func() { released = true })

	// No commit, no settlement: scoped resources must still be released.
	tx.Dispose()
	assert.True(t, released)
}
