package provider

import (
	"sync"
	"sync/atomic"

	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"golang.org/x/sync/singleflight"
)

// PlanCache maps canonical query shapes to compiled plans. It is safe for
// concurrent use: lookups run in parallel and each key is compiled at most
// once at a time, with concurrent callers for the same key sharing the
// result.
//
// Plans embed the mapping, policy and plugins they were compiled with, so
// a cache may only be shared by providers configured the same way.
type PlanCache struct {
	mu     sync.RWMutex
	plans  map[string]*exec.Plan
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewPlanCache returns an empty cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{plans: make(map[string]*exec.Plan)}
}

// Get returns the plan cached for key.
func (c *PlanCache) Get(key string) (*exec.Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[key]
	return p, ok
}

// GetOrCompile returns the plan cached for key, compiling and storing it
// when there is none. hit reports whether the plan came from the cache.
// Failed compiles are not cached.
func (c *PlanCache) GetOrCompile(key string, compile func() (*exec.Plan, error)) (plan *exec.Plan, hit bool, err error) {
	if p, ok := c.Get(key); ok {
		c.hits.Add(1)
		return p, true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if p, ok := c.Get(key); ok {
			return p, nil
		}
		c.misses.Add(1)
		p, err := compile()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.plans[key] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*exec.Plan), false, nil
}

// Len returns the number of cached plans.
func (c *PlanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

// Stats returns the number of lookups served from the cache and the number
// of compiles.
func (c *PlanCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear drops every cached plan.
func (c *PlanCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.plans)
}

// cacheKey returns the canonical shape of an input tree. Trees holding
// constants of mutable types, such as records, have no key: their values
// are captured by the plan at compile time.
func cacheKey(n nodes.Node) (string, bool) {
	ok := true
	var types []byte
	var walk func(nodes.Node)
	walk = func(x nodes.Node) {
		if !ok || x == nil {
			return
		}
		switch c := x.(type) {
		case *nodes.Constant:
			if !immutable(c.Typ) {
				ok = false
				return
			}
			types = append(types, c.Typ.String()...)
			types = append(types, ';')
		case *nodes.Parameter:
			types = append(types, c.Name+":"+c.Typ.String()+";"...)
		}
		for _, child := range nodes.Children(x) {
			walk(child)
		}
	}
	walk(n)
	if !ok {
		return "", false
	}
	return nodes.String(n) + "\x00" + string(types), true
}

func immutable(t model.Type) bool {
	if t == nil {
		return true
	}
	if model.IsSeq(t) {
		return model.IsScalar(model.ElemType(t))
	}
	return model.IsScalar(t)
}
