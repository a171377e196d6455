/*
DESCRIPTION
  Query log container datastore type and functions. A query log
  container holds the import history of exactly one query.

LICENSE
  Copyright (C) 2026 the Australian Ocean Lab (AusOcean).

  This is free software: you can redistribute it and/or modify it
  under the terms of the GNU General Public License as published by
  the Free Software Foundation, either version 3 of the License, or
  (at your option) any later version.

  This is distributed in the hope that it will be useful, but WITHOUT
  ANY WARRANTY; without even the implied warranty of MERCHANTABILITY
  or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public
  License for more details.

  You should have received a copy of the GNU General Public License in
  gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ausocean/openfish/datastore"
	"github.com/google/uuid"
)

const typeQueryLogContainer = "QueryLogContainer" // QueryLogContainer datastore type.

// ErrDataMissing is returned when a referenced query log container
// cannot be found in the store.
var ErrDataMissing = errors.New("data missing")

// QueryLogContainer holds the File Seed Cache and Gallery Seed Log of one query.
type QueryLogContainer struct {
	Name           string
	FileSeedCache  *FileSeedCache
	GallerySeedLog *GallerySeedLog
}

// NewContainerName returns a fresh, never reused, container name.
func NewContainerName() string {
	return uuid.NewString()
}

// NewQueryLogContainer returns an empty container with the given name.
func NewQueryLogContainer(name string) *QueryLogContainer {
	return &QueryLogContainer{Name: name, FileSeedCache: &FileSeedCache{}, GallerySeedLog: &GallerySeedLog{}}
}

// init ensures the seed collections are never nil.
func (c *QueryLogContainer) init() {
	if c.FileSeedCache == nil {
		c.FileSeedCache = &FileSeedCache{}
	}
	if c.GallerySeedLog == nil {
		c.GallerySeedLog = &GallerySeedLog{}
	}
}

// Absorb merges the history of other into c, skipping URLs c already holds.
func (c *QueryLogContainer) Absorb(other *QueryLogContainer) int {
	c.init()
	if other == nil {
		return 0
	}
	n := c.FileSeedCache.Absorb(other.FileSeedCache)
	c.GallerySeedLog.Absorb(other.GallerySeedLog)
	return n
}

// Encode serializes a QueryLogContainer into JSON.
func (c *QueryLogContainer) Encode() []byte {
	bytes, _ := json.Marshal(c)
	return bytes
}

// Decode deserializes a QueryLogContainer from JSON.
func (c *QueryLogContainer) Decode(b []byte) error {
	err := json.Unmarshal(b, c)
	if err != nil {
		return datastore.ErrDecoding
	}
	c.init()
	return nil
}

// Load implements datastore.LoadSaver.Load. Seeds are held in a
// single unindexed JSON property since they nest slices.
func (c *QueryLogContainer) Load(ps []datastore.Property) error {
	for _, p := range ps {
		if p.Name != "Data" {
			continue
		}
		b, ok := p.Value.([]byte)
		if !ok {
			return errors.New("unexpected type for QueryLogContainer.Data")
		}
		return c.Decode(b)
	}
	return datastore.ErrDecoding
}

// Save implements datastore.LoadSaver.Save.
func (c *QueryLogContainer) Save() ([]datastore.Property, error) {
	return []datastore.Property{
		{Name: "Name", Value: c.Name},
		{Name: "Data", Value: c.Encode(), NoIndex: true},
	}, nil
}

// Copy copies a container to dst, or returns a copy of the container when dst is nil.
func (c *QueryLogContainer) Copy(dst datastore.Entity) (datastore.Entity, error) {
	var c2 *QueryLogContainer
	if dst == nil {
		c2 = new(QueryLogContainer)
	} else {
		var ok bool
		c2, ok = dst.(*QueryLogContainer)
		if !ok {
			return nil, datastore.ErrWrongType
		}
	}
	err := c2.Decode(c.Encode())
	if err != nil {
		return nil, err
	}
	return c2, nil
}

// GetCache returns nil, indicating no caching.
func (c *QueryLogContainer) GetCache() datastore.Cache {
	return nil
}

// PutQueryLogContainer creates or updates a container.
func PutQueryLogContainer(ctx context.Context, store datastore.Store, c *QueryLogContainer) error {
	if c.Name == "" {
		return errors.New("query log container has no name")
	}
	c.init()
	key := store.NameKey(typeQueryLogContainer, c.Name)
	_, err := store.Put(ctx, key, c)
	return err
}

// GetQueryLogContainer gets a container by name. It returns an error
// wrapping ErrDataMissing if no such container exists.
func GetQueryLogContainer(ctx context.Context, store datastore.Store, name string) (*QueryLogContainer, error) {
	key := store.NameKey(typeQueryLogContainer, name)
	c := new(QueryLogContainer)
	err := store.Get(ctx, key, c)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, fmt.Errorf("query log container %s: %w", name, ErrDataMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("could not get query log container %s: %w", name, err)
	}
	c.init()
	if c.Name == "" {
		c.Name = name
	}
	return c, nil
}

// DeleteQueryLogContainers deletes the named containers.
func DeleteQueryLogContainers(ctx context.Context, store datastore.Store, names []string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]*datastore.Key, 0, len(names))
	for _, n := range names {
		keys = append(keys, store.NameKey(typeQueryLogContainer, n))
	}
	return store.DeleteMulti(ctx, keys)
}
