/*
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

package reconcile

import (
	"fmt"

	"github.com/ausocean/subsync/model"
)

// NonDupeName returns name if it is not taken, else the first of
// "name (1)", "name (2)", ... that is not.
func NonDupeName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	for i := 1; ; i++ {
		n := fmt.Sprintf("%s (%d)", name, i)
		if !taken[n] {
			return n
		}
	}
}

// Names returns the set of subscription names in subs.
func Names(subs []*model.Subscription) map[string]bool {
	m := make(map[string]bool, len(subs))
	for _, s := range subs {
		m[s.Name] = true
	}
	return m
}

// QueryCount returns the total number of query headers in subs.
func QueryCount(subs []*model.Subscription) int {
	var n int
	for _, s := range subs {
		n += len(s.QueryHeaders)
	}
	return n
}
