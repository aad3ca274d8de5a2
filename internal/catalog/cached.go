package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cached memoizes the lookups of a slow provider, typically Live. Concurrent
// identical lookups share one underlying call. Errors are not cached.
type Cached struct {
	inner Provider
	group singleflight.Group

	mu       sync.Mutex
	objects  map[string]*Object
	columns  map[*Object][]Column
	children map[*Object][]*Object
	pseudo   map[*Object][]string
}

var _ Provider = (*Cached)(nil)

// NewCached wraps inner.
func NewCached(inner Provider) *Cached {
	c := &Cached{inner: inner}
	c.reset()
	return c
}

func (c *Cached) reset() {
	c.objects = make(map[string]*Object)
	c.columns = make(map[*Object][]Column)
	c.children = make(map[*Object][]*Object)
	c.pseudo = make(map[*Object][]string)
}

// Invalidate drops every cached entry.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func objectKey(parts []string) string {
	key := make([]string, len(parts))
	for i, p := range parts {
		key[i] = Normalize(p)
	}
	return strings.Join(key, "\x00")
}

// FindObject implements Provider. Misses are cached as well.
func (c *Cached) FindObject(ctx context.Context, parts []string) (*Object, error) {
	key := objectKey(parts)
	c.mu.Lock()
	obj, ok := c.objects[key]
	c.mu.Unlock()
	if ok {
		return obj, nil
	}

	v, err, _ := c.group.Do("find:"+key, func() (any, error) {
		obj, err := c.inner.FindObject(ctx, parts)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.objects[key] = obj
		c.mu.Unlock()
		return obj, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Object), nil
}

// SearchSchema implements SearchPath when the wrapped provider does.
func (c *Cached) SearchSchema(ctx context.Context) (*Object, error) {
	if sp, ok := c.inner.(SearchPath); ok {
		return sp.SearchSchema(ctx)
	}
	return nil, nil
}

// Attributes implements Provider.
func (c *Cached) Attributes(ctx context.Context, table *Object) ([]Column, error) {
	return cachedList(ctx, c, func() map[*Object][]Column { return c.columns }, "attrs", table, c.inner.Attributes)
}

// Children implements Provider.
func (c *Cached) Children(ctx context.Context, parent *Object) ([]*Object, error) {
	return cachedList(ctx, c, func() map[*Object][]*Object { return c.children }, "children", parent, c.inner.Children)
}

// PseudoColumns implements Provider.
func (c *Cached) PseudoColumns(ctx context.Context, table *Object) ([]string, error) {
	return cachedList(ctx, c, func() map[*Object][]string { return c.pseudo }, "pseudo", table, c.inner.PseudoColumns)
}

// cachedList serves one of the per-object caches. cache must be called with
// c.mu held since Invalidate replaces the maps.
func cachedList[T any](
	ctx context.Context,
	c *Cached,
	cache func() map[*Object][]T,
	op string,
	obj *Object,
	load func(context.Context, *Object) ([]T, error),
) ([]T, error) {
	c.mu.Lock()
	list, ok := cache()[obj]
	c.mu.Unlock()
	if ok {
		return list, nil
	}

	key := op
	if obj != nil {
		key = fmt.Sprintf("%s:%p", op, obj)
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		list, err := load(ctx, obj)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		cache()[obj] = list
		c.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}
