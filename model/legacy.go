/*
DESCRIPTION
  Subscription export envelope, pairing one subscription with every
  query log container it references.

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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingContainers is returned when an export or import lacks
// containers its subscription references.
var ErrMissingContainers = errors.New("missing query log containers")

// SubscriptionExport is the serializable export envelope.
type SubscriptionExport struct {
	Subscription *Subscription
	Containers   []*QueryLogContainer
}

// ExportSubscription returns an envelope holding a copy of sub and of
// every container it references, which must all be in containers.
func ExportSubscription(sub *Subscription, containers map[string]*QueryLogContainer) (*SubscriptionExport, error) {
	env := &SubscriptionExport{Subscription: sub.Clone()}
	var missing []string
	for _, name := range sub.ContainerNames() {
		c, ok := containers[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		c2, err := c.Copy(nil)
		if err != nil {
			return nil, fmt.Errorf("could not copy container %s: %w", name, err)
		}
		env.Containers = append(env.Containers, c2.(*QueryLogContainer))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingContainers, strings.Join(missing, ", "))
	}
	return env, nil
}

// Encode serializes the envelope into JSON.
func (e *SubscriptionExport) Encode() []byte {
	bytes, _ := json.Marshal(e)
	return bytes
}

// DecodeSubscriptionExport deserializes an envelope from JSON.
func DecodeSubscriptionExport(b []byte) (*SubscriptionExport, error) {
	e := new(SubscriptionExport)
	err := json.Unmarshal(b, e)
	if err != nil {
		return nil, fmt.Errorf("could not decode subscription export: %w", err)
	}
	if e.Subscription == nil {
		return nil, errors.New("subscription export has no subscription")
	}
	for _, c := range e.Containers {
		c.init()
	}
	return e, nil
}

// MissingContainers returns the query texts whose containers are absent
// from the envelope.
func (e *SubscriptionExport) MissingContainers() []string {
	have := make(map[string]bool, len(e.Containers))
	for _, c := range e.Containers {
		have[c.Name] = true
	}
	var missing []string
	for _, q := range e.Subscription.QueryHeaders {
		if !have[q.ContainerName] {
			missing = append(missing, q.QueryText)
		}
	}
	return missing
}

// ImportSubscription returns the envelope's subscription and containers
// with every container re-keyed to a fresh name. Missing containers
// fail with ErrMissingContainers unless allowMissing, in which case the
// header gets a new empty container and is left unsynced.
func ImportSubscription(e *SubscriptionExport, allowMissing bool) (*Subscription, []*QueryLogContainer, error) {
	if missing := e.MissingContainers(); len(missing) > 0 && !allowMissing {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingContainers, strings.Join(missing, ", "))
	}

	byName := make(map[string]*QueryLogContainer, len(e.Containers))
	for _, c := range e.Containers {
		byName[c.Name] = c
	}

	sub := e.Subscription.Clone()
	containers := make([]*QueryLogContainer, 0, len(sub.QueryHeaders))
	for _, q := range sub.QueryHeaders {
		name := NewContainerName()
		c, ok := byName[q.ContainerName]
		if ok {
			c2, err := c.Copy(nil)
			if err != nil {
				return nil, nil, fmt.Errorf("could not copy container %s: %w", q.ContainerName, err)
			}
			c = c2.(*QueryLogContainer)
			c.Name = name
		} else {
			c = NewQueryLogContainer(name)
			q.Invalidate()
		}
		q.ContainerName = name
		containers = append(containers, c)
	}
	return sub, containers, nil
}
