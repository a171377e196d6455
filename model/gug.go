/*
DESCRIPTION
  Gallery URL generator (GUG) datastore type and functions. A GUG turns
  a query text into the URL of the first gallery page to check.

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
	"net/url"
	"strings"

	"github.com/ausocean/openfish/datastore"
)

const typeGUG = "GUG" // GUG datastore type.

var ErrNoQueryPlaceholder = errors.New("url template has no %s placeholder")

// GUG is a gallery URL generator.
type GUG struct {
	Key         string
	Name        string
	URLTemplate string // E.g., "https://example.com/search?tags=%s".
}

// KeyAndName returns the identity subscriptions use to refer to the GUG.
func (g *GUG) KeyAndName() GUGKeyAndName {
	return GUGKeyAndName{Key: g.Key, Name: g.Name}
}

// GenerateURL substitutes the escaped query into the template. Spaces
// become '+', as search forms expect.
func (g *GUG) GenerateURL(query string) (string, error) {
	if !strings.Contains(g.URLTemplate, "%s") {
		return "", ErrNoQueryPlaceholder
	}
	return strings.Replace(g.URLTemplate, "%s", url.QueryEscape(query), 1), nil
}

// Encode serializes a GUG into JSON.
func (g *GUG) Encode() []byte {
	bytes, _ := json.Marshal(g)
	return bytes
}

// Decode deserializes a GUG from JSON.
func (g *GUG) Decode(b []byte) error {
	err := json.Unmarshal(b, g)
	if err != nil {
		return datastore.ErrDecoding
	}
	return nil
}

// Copy copies a GUG to dst, or returns a copy of the GUG when dst is nil.
func (g *GUG) Copy(dst datastore.Entity) (datastore.Entity, error) {
	var g2 *GUG
	if dst == nil {
		g2 = new(GUG)
	} else {
		var ok bool
		g2, ok = dst.(*GUG)
		if !ok {
			return nil, datastore.ErrWrongType
		}
	}
	*g2 = *g
	return g2, nil
}

// GetCache returns nil, indicating no caching.
func (g *GUG) GetCache() datastore.Cache {
	return nil
}

// PutGUG creates or updates a GUG.
func PutGUG(ctx context.Context, store datastore.Store, g *GUG) error {
	key := store.NameKey(typeGUG, g.Key)
	_, err := store.Put(ctx, key, g)
	return err
}

// GetGUG gets a GUG by key.
func GetGUG(ctx context.Context, store datastore.Store, k string) (*GUG, error) {
	key := store.NameKey(typeGUG, k)
	g := new(GUG)
	err := store.Get(ctx, key, g)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetAllGUGs returns every GUG.
func GetAllGUGs(ctx context.Context, store datastore.Store) ([]GUG, error) {
	q := store.NewQuery(typeGUG, false)
	var gugs []GUG
	_, err := store.GetAll(ctx, q, &gugs)
	return gugs, err
}
