package backend

import (
	"sync"

	"github.com/ZenLiuCN/incremental/unit"
)

// Cache remembers emitted objects per generation so repeated emission of a unit is idempotent.
// Failures are not cached.
type Cache struct {
	Backend
	mu      sync.Mutex
	objects map[unit.Generation]Object
}

func NewCache(b Backend) *Cache {
	return &Cache{Backend: b, objects: make(map[unit.Generation]Object)}
}

func (c *Cache) Emit(u *unit.Unit) (o Object, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.objects[u.Gen()]; ok {
		return o, nil
	}
	if err = CheckLevel(u.OptLevel()); err != nil {
		return nil, err
	}
	if o, err = c.Backend.Emit(u); err != nil {
		return nil, err
	}
	c.objects[u.Gen()] = o
	return
}

// Cached reports whether gen has an emitted object.
func (c *Cache) Cached(gen unit.Generation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.objects[gen]
	return ok
}

// Evict forget the object of gen.
func (c *Cache) Evict(gen unit.Generation) {
	c.mu.Lock()
	delete(c.objects, gen)
	c.mu.Unlock()
}
