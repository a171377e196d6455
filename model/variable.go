/*
DESCRIPTION
  Variable datastore type and functions.

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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ausocean/openfish/datastore"
)

const typeVariable = "Variable" // Variable datastore type.

// Variable stores arbitrary string state. When the variable name
// includes a period, the portion to the left of the dot is the scope,
// e.g., _bandwidth.domain:example.com is the bandwidth state of a domain.
// Names that start with an underscore are system variables.
type Variable struct {
	Scope   string    // Scope, if any.
	Name    string    // Variable name, including the scope.
	Value   string    `datastore:",noindex"` // Variable value.
	Updated time.Time // Date/time last updated.
}

// Encode serializes a Variable into tab-separated values.
func (v *Variable) Encode() []byte {
	return []byte(fmt.Sprintf("%s\t%s\t%s\t%d", v.Scope, v.Name, v.Value, v.Updated.Unix()))
}

// Decode deserializes a Variable from tab-separated values.
func (v *Variable) Decode(b []byte) error {
	p := strings.Split(string(b), "\t")
	if len(p) != 4 {
		return datastore.ErrDecoding
	}
	v.Scope = p[0]
	v.Name = p[1]
	v.Value = p[2]
	ts, err := strconv.ParseInt(p[3], 10, 64)
	if err != nil {
		return datastore.ErrDecoding
	}
	v.Updated = time.Unix(ts, 0)
	return nil
}

// Copy copies a Variable to dst, or returns a copy of the Variable when dst is nil.
func (v *Variable) Copy(dst datastore.Entity) (datastore.Entity, error) {
	var v2 *Variable
	if dst == nil {
		v2 = new(Variable)
	} else {
		var ok bool
		v2, ok = dst.(*Variable)
		if !ok {
			return nil, datastore.ErrWrongType
		}
	}
	*v2 = *v
	return v2, nil
}

// GetCache returns nil, indicating no caching.
func (v *Variable) GetCache() datastore.Cache {
	return nil
}

// Basename returns the name of the variable without the scope.
func (v *Variable) Basename() string {
	parts := strings.SplitN(v.Name, ".", 2)
	return parts[len(parts)-1]
}

// splitScope returns the scope of name, if any.
func splitScope(name string) string {
	sep := strings.Index(name, ".")
	if sep < 0 {
		return ""
	}
	return name[:sep]
}

// PutVariable creates or updates a variable.
func PutVariable(ctx context.Context, store datastore.Store, name, value string) error {
	v := &Variable{Name: name, Scope: splitScope(name), Value: value, Updated: time.Now()}
	key := store.NameKey(typeVariable, name)
	_, err := store.Put(ctx, key, v)
	return err
}

// PutVariableInTransaction updates or creates a variable atomically.
// First it will try to update, if that fails, it will create, then try
// to update again. updateFunc maps the current value to the new value.
func PutVariableInTransaction(ctx context.Context, store datastore.Store, name string, updateFunc func(currentValue string) string) error {
	key := store.NameKey(typeVariable, name)
	var variable Variable

update:
	err := store.Update(ctx, key, func(entity datastore.Entity) {
		if v, ok := entity.(*Variable); ok {
			v.Value = updateFunc(v.Value)
			v.Updated = time.Now()
		}
	}, &variable)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		variable = Variable{Name: name, Scope: splitScope(name), Updated: time.Now()}
		err := store.Create(ctx, key, &variable)
		if err != nil && !errors.Is(err, datastore.ErrEntityExists) {
			return fmt.Errorf("failed to create variable: %w", err)
		}
		goto update
	}
	if err != nil {
		return fmt.Errorf("failed to update variable: %w", err)
	}
	return nil
}

// GetVariable gets a variable.
func GetVariable(ctx context.Context, store datastore.Store, name string) (*Variable, error) {
	key := store.NameKey(typeVariable, name)
	v := new(Variable)
	return v, store.Get(ctx, key, v)
}

// GetVariablesByScope returns all the variables of a scope, ordered by name.
func GetVariablesByScope(ctx context.Context, store datastore.Store, scope string) ([]Variable, error) {
	q := store.NewQuery(typeVariable, false)
	var vars []Variable
	_, err := store.GetAll(ctx, q, &vars)
	if err != nil {
		return nil, err
	}

	// Filtered here since FileStore does not index variables by scope.
	var res []Variable
	for _, v := range vars {
		if v.Scope == scope {
			res = append(res, v)
		}
	}
	return res, nil
}

// DeleteVariable deletes a variable.
func DeleteVariable(ctx context.Context, store datastore.Store, name string) error {
	key := store.NameKey(typeVariable, name)
	return store.DeleteMulti(ctx, []*datastore.Key{key})
}
