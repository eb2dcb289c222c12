package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	_ Registry = &RunCache{}
)

/**
 * RunCache memoizes lookups for the lifetime of one run. Concurrent nodes
 * asking for the same entry share one backend call. It is created with the
 * run and dropped with it, nothing is ever shared between runs. Every
 * caller gets its own copy of the cached entry.
 */
type RunCache struct {
	backend Registry
	group   singleflight.Group

	mu          sync.Mutex
	connections map[string]*Connection
	variables   map[string]*Variable
}

func NewRunCache(backend Registry) *RunCache {
	return &RunCache{
		backend:     backend,
		connections: make(map[string]*Connection),
		variables:   make(map[string]*Variable),
	}
}

func (c *RunCache) GetConnection(ctx context.Context, namespace, key string) (*Connection, error) {
	id := namespace + "/" + key

	c.mu.Lock()
	conn, ok := c.connections[id]
	c.mu.Unlock()
	if ok {
		return conn.Clone(), nil
	}

	v, err, _ := c.group.Do("c:"+id, func() (any, error) {
		c.mu.Lock()
		conn, ok := c.connections[id]
		c.mu.Unlock()
		if ok {
			return conn, nil
		}
		conn, err := c.backend.GetConnection(ctx, namespace, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.connections[id] = conn
		c.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection).Clone(), nil
}

func (c *RunCache) GetVariable(ctx context.Context, namespace, key string) (*Variable, error) {
	id := namespace + "/" + key

	c.mu.Lock()
	variable, ok := c.variables[id]
	c.mu.Unlock()
	if ok {
		copied := *variable
		return &copied, nil
	}

	v, err, _ := c.group.Do("v:"+id, func() (any, error) {
		c.mu.Lock()
		variable, ok := c.variables[id]
		c.mu.Unlock()
		if ok {
			return variable, nil
		}
		variable, err := c.backend.GetVariable(ctx, namespace, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.variables[id] = variable
		c.mu.Unlock()
		return variable, nil
	})
	if err != nil {
		return nil, err
	}
	copied := *v.(*Variable)
	return &copied, nil
}
