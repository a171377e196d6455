/*
DESCRIPTION
  Merge combines subscriptions that share a downloader into one
  subscription carrying the union of their queries.

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
	"context"

	"github.com/ausocean/subsync/model"
)

// PartitionMergeable splits subs into maximal groups of mergeable
// subscriptions. Each pass pops a pivot and takes every remaining
// subscription it can merge with. A pivot that takes nothing, and any
// subscription without queries, is unmergeable.
func PartitionMergeable(subs []*model.Subscription) (groups [][]*model.Subscription, unmergeable []*model.Subscription) {
	var cands []*model.Subscription
	for _, s := range subs {
		if len(s.QueryHeaders) == 0 {
			unmergeable = append(unmergeable, s)
			continue
		}
		cands = append(cands, s)
	}

	for len(cands) > 0 {
		pivot := cands[0]
		group := []*model.Subscription{pivot}
		var rest []*model.Subscription
		for _, s := range cands[1:] {
			if pivot.CanMergeWith(s) {
				group = append(group, s)
			} else {
				rest = append(rest, s)
			}
		}
		if len(group) > 1 {
			groups = append(groups, group)
		} else {
			unmergeable = append(unmergeable, pivot)
		}
		cands = rest
	}
	return groups, unmergeable
}

// MergeInto merges others into primary and renames primary to name,
// or a non-colliding variant of it, unless name is empty or unchanged.
// taken holds the names in use; primary's and the consumed
// subscriptions' names are freed. Subscriptions that still hold queries
// are returned as leftovers; those left empty are consumed.
func MergeInto(primary *model.Subscription, others []*model.Subscription, name string, taken map[string]bool) (leftovers, consumed []*model.Subscription) {
	leftovers = primary.Merge(others)
	left := make(map[*model.Subscription]bool, len(leftovers))
	for _, s := range leftovers {
		left[s] = true
	}
	for _, s := range others {
		if s != primary && !left[s] {
			consumed = append(consumed, s)
		}
	}

	if name == "" || name == primary.Name {
		return leftovers, consumed
	}
	t := make(map[string]bool, len(taken))
	for n := range taken {
		t[n] = true
	}
	delete(t, primary.Name)
	for _, s := range consumed {
		delete(t, s.Name)
	}
	for _, s := range leftovers {
		t[s.Name] = true
	}
	primary.Name = NonDupeName(name, t)
	return leftovers, consumed
}

// MergePlan holds the choices for one merge group.
type MergePlan struct {
	Group   []*model.Subscription
	Primary *model.Subscription
	Name    string // Empty keeps the primary's name.
}

// ChooseMerges partitions subs and asks for a primary and a name for
// every group. No group is merged until all choices are made.
func ChooseMerges(ctx context.Context, subs []*model.Subscription, c Chooser) ([]MergePlan, error) {
	groups, _ := PartitionMergeable(subs)
	if len(groups) == 0 {
		return nil, Veto("none of the selected subscriptions can be merged")
	}

	plans := make([]MergePlan, 0, len(groups))
	for _, g := range groups {
		primary, err := c.ChoosePrimary(ctx, g)
		if err != nil {
			return nil, err
		}
		if !member(g, primary) {
			return nil, Veto("the chosen primary is not in the merge group")
		}
		name, err := c.ChooseName(ctx, "name for the merged subscription", primary.Name)
		if err != nil {
			return nil, err
		}
		plans = append(plans, MergePlan{Group: g, Primary: primary, Name: name})
	}
	return plans, nil
}

// MergeResult describes the outcome of applying merge plans.
type MergeResult struct {
	Subscriptions []*model.Subscription // The new working set.
	Consumed      []*model.Subscription // Emptied and dropped.
}

// ApplyMerges applies plans to the working set subs. The result holds
// every subscription outside the plans, then each primary followed by
// the leftovers of its group.
func ApplyMerges(subs []*model.Subscription, plans []MergePlan) MergeResult {
	inGroup := make(map[*model.Subscription]bool)
	for _, p := range plans {
		for _, s := range p.Group {
			inGroup[s] = true
		}
	}
	var res MergeResult
	for _, s := range subs {
		if !inGroup[s] {
			res.Subscriptions = append(res.Subscriptions, s)
		}
	}

	taken := Names(subs)
	for _, p := range plans {
		var others []*model.Subscription
		for _, s := range p.Group {
			if s != p.Primary {
				others = append(others, s)
			}
		}
		oldName := p.Primary.Name
		leftovers, consumed := MergeInto(p.Primary, others, p.Name, taken)
		for _, s := range consumed {
			delete(taken, s.Name)
		}
		delete(taken, oldName)
		taken[p.Primary.Name] = true
		res.Subscriptions = append(res.Subscriptions, p.Primary)
		res.Subscriptions = append(res.Subscriptions, leftovers...)
		res.Consumed = append(res.Consumed, consumed...)
	}
	return res
}

func member(subs []*model.Subscription, s *model.Subscription) bool {
	for _, m := range subs {
		if m == s {
			return true
		}
	}
	return false
}
