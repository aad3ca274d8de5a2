package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider counts calls to the wrapped provider.
type countingProvider struct {
	Provider
	finds atomic.Int32
	attrs atomic.Int32
	fail  atomic.Bool
}

func (p *countingProvider) FindObject(ctx context.Context, parts []string) (*Object, error) {
	p.finds.Add(1)
	if p.fail.Load() {
		return nil, assert.AnError
	}
	return p.Provider.FindObject(ctx, parts)
}

func (p *countingProvider) Attributes(ctx context.Context, table *Object) ([]Column, error) {
	p.attrs.Add(1)
	return p.Provider.Attributes(ctx, table)
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{Provider: testCatalog(t)}
	c := NewCached(inner)

	obj, err := c.FindObject(ctx, []string{"customers"})
	require.NoError(t, err)
	require.NotNil(t, obj)
	again, err := c.FindObject(ctx, []string{"Customers"})
	require.NoError(t, err)
	assert.Same(t, obj, again)
	assert.Equal(t, int32(1), inner.finds.Load())

	// Misses are remembered too.
	for range 2 {
		miss, err := c.FindObject(ctx, []string{"nope"})
		require.NoError(t, err)
		assert.Nil(t, miss)
	}
	assert.Equal(t, int32(2), inner.finds.Load())

	for range 3 {
		cols, err := c.Attributes(ctx, obj)
		require.NoError(t, err)
		assert.Len(t, cols, 3)
	}
	assert.Equal(t, int32(1), inner.attrs.Load())

	c.Invalidate()
	_, err = c.Attributes(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.attrs.Load())
}

func TestCached_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{Provider: testCatalog(t)}
	inner.fail.Store(true)
	c := NewCached(inner)

	_, err := c.FindObject(ctx, []string{"customers"})
	assert.ErrorIs(t, err, assert.AnError)

	inner.fail.Store(false)
	obj, err := c.FindObject(ctx, []string{"customers"})
	require.NoError(t, err)
	assert.NotNil(t, obj)
	assert.Equal(t, int32(2), inner.finds.Load())
}

func TestCached_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewCached(testCatalog(t))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obj, err := c.FindObject(ctx, []string{"orders"})
			assert.NoError(t, err)
			assert.NotNil(t, obj)
			children, err := c.Children(ctx, nil)
			assert.NoError(t, err)
			assert.Len(t, children, 2)
		}()
	}
	wg.Wait()
}
