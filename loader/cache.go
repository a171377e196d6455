/*
DESCRIPTION
  Cache of loaded query log containers, keyed by container name.

LICENSE
  Copyright (C) 2026 the Australian Ocean Lab (AusOcean).

  This is free software: you can redistribute it and/or modify it
  under the terms of the GNU General Public License as published by
  the Free Software Foundation, either version 3 of the License, or
  (at your option) any later version.

  It is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

package loader

import (
	"sync"

	"github.com/ausocean/subsync/model"
)

// Cache holds the containers of an editing session. Unlike an entity
// cache it holds the containers themselves, not copies, since this is
// where container contents are edited.
type Cache struct {
	data  map[string]*model.QueryLogContainer
	mutex sync.RWMutex
}

// NewCache returns a new, empty, Cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string]*model.QueryLogContainer)}
}

// Set adds or replaces a container.
func (c *Cache) Set(qlc *model.QueryLogContainer) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.data[qlc.Name] = qlc
}

// Get returns the named container, if loaded.
func (c *Cache) Get(name string) (*model.QueryLogContainer, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	qlc, ok := c.data[name]
	return qlc, ok
}

// Delete removes a container.
func (c *Cache) Delete(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.data, name)
}

// Reset clears the cache.
func (c *Cache) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.data = map[string]*model.QueryLogContainer{}
}

// Len returns the number of loaded containers.
func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

// Missing returns the distinct names that are not loaded, in order.
func (c *Cache) Missing(names []string) []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	seen := make(map[string]bool, len(names))
	var missing []string
	for _, n := range names {
		if _, ok := c.data[n]; ok || seen[n] {
			continue
		}
		seen[n] = true
		missing = append(missing, n)
	}
	return missing
}

// Snapshot returns a map of the loaded containers. The map is new but
// the containers are shared.
func (c *Cache) Snapshot() map[string]*model.QueryLogContainer {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	m := make(map[string]*model.QueryLogContainer, len(c.data))
	for k, v := range c.data {
		m[k] = v
	}
	return m
}
