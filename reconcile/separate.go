/*
DESCRIPTION
  Separate splits one subscription into several, the inverse of merge.

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
	"sort"

	"github.com/ausocean/subsync/model"
)

// SeparateOptions holds the choices for one separate operation.
type SeparateOptions struct {
	Mode       SeparateMode
	Texts      []string // SeparatePart only: the queries to extract.
	Remerge    bool     // SeparatePart only: merge the extracted queries.
	MergedName string   // Name for the re-merged subscription.
}

// SeparateResult describes the outcome of a separate operation.
type SeparateResult struct {
	Original *model.Subscription   // Nil if every query was extracted.
	Created  []*model.Subscription // New subscriptions.
}

// ChooseSeparate gathers the choices for separating s.
func ChooseSeparate(ctx context.Context, s *model.Subscription, c Chooser) (SeparateOptions, error) {
	if len(s.QueryHeaders) < 2 {
		return SeparateOptions{}, Veto("%s has fewer than two queries", s.Name)
	}
	mode, err := c.ChooseSeparateMode(ctx, s)
	if err != nil {
		return SeparateOptions{}, err
	}
	opts := SeparateOptions{Mode: mode}
	if mode != SeparatePart {
		return opts, nil
	}

	opts.Texts, err = c.ChooseTexts(ctx, "select the queries to separate", s.QueryTexts())
	if err != nil {
		return SeparateOptions{}, err
	}
	opts.Texts = intersect(s.QueryTexts(), opts.Texts, Cased)
	if len(opts.Texts) == 0 {
		return SeparateOptions{}, Veto("no queries selected")
	}
	if len(opts.Texts) < 2 || len(opts.Texts) == len(s.QueryHeaders) {
		return opts, nil
	}

	opts.Remerge, err = c.Confirm(ctx, "merge the separated queries into one new subscription?")
	if err != nil {
		return SeparateOptions{}, err
	}
	if opts.Remerge {
		opts.MergedName, err = c.ChooseName(ctx, "name for the new subscription", s.Name)
		if err != nil {
			return SeparateOptions{}, err
		}
	}
	return opts, nil
}

// Separate splits s according to opts. taken holds the names in use
// in the working set. The query header count is conserved: headers move
// between subscriptions and are never copied or dropped.
func Separate(s *model.Subscription, opts SeparateOptions, taken map[string]bool) (SeparateResult, error) {
	if len(s.QueryHeaders) < 2 {
		return SeparateResult{}, Veto("%s has fewer than two queries", s.Name)
	}
	t := make(map[string]bool, len(taken))
	for n := range taken {
		t[n] = true
	}

	switch opts.Mode {
	case SeparateHalf:
		return separateHalf(s, t), nil
	case SeparateWhole:
		return separateWhole(s, t), nil
	case SeparatePart:
		return separatePart(s, opts, t)
	default:
		return SeparateResult{}, Veto("unknown separate mode %v", opts.Mode)
	}
}

// separateHalf sorts the queries by text; s keeps the first half, the
// larger one when odd, as "S (A)" and a duplicate takes the rest as "S (B)".
func separateHalf(s *model.Subscription, taken map[string]bool) SeparateResult {
	sorted := append([]*model.QueryHeader(nil), s.QueryHeaders...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].QueryText < sorted[j].QueryText })
	k := (len(sorted) + 1) / 2

	delete(taken, s.Name)
	nameA := NonDupeName(s.Name+" (A)", taken)
	taken[nameA] = true
	nameB := NonDupeName(s.Name+" (B)", taken)

	b := s.Duplicate(nameB)
	b.QueryHeaders = sorted[k:]
	s.QueryHeaders = sorted[:k]
	s.Name = nameA
	return SeparateResult{Original: s, Created: []*model.Subscription{b}}
}

// separateWhole gives every query its own subscription. The emptied
// original is dropped.
func separateWhole(s *model.Subscription, taken map[string]bool) SeparateResult {
	delete(taken, s.Name)
	created := s.Separate(s.Name, s.QueryHeaders)
	rename(created, taken)
	return SeparateResult{Created: created}
}

func separatePart(s *model.Subscription, opts SeparateOptions, taken map[string]bool) (SeparateResult, error) {
	want := make(map[string]bool, len(opts.Texts))
	for _, t := range opts.Texts {
		want[t] = true
	}
	var headers []*model.QueryHeader
	for _, q := range s.QueryHeaders {
		if want[q.QueryText] {
			headers = append(headers, q)
		}
	}
	switch {
	case len(headers) == 0:
		return SeparateResult{}, Veto("no queries selected")
	case len(headers) == len(s.QueryHeaders):
		return separateWhole(s, taken), nil
	}

	created := s.Separate(s.Name, headers)
	rename(created, taken)
	if !opts.Remerge || len(created) < 2 {
		return SeparateResult{Original: s, Created: created}, nil
	}

	name := opts.MergedName
	if name == "" {
		name = s.Name
	}
	primary := created[0]
	leftovers, _ := MergeInto(primary, created[1:], name, taken)
	return SeparateResult{Original: s, Created: append([]*model.Subscription{primary}, leftovers...)}, nil
}

// rename gives each subscription a name not in taken, adding it to taken.
func rename(subs []*model.Subscription, taken map[string]bool) {
	for _, s := range subs {
		s.Name = NonDupeName(s.Name, taken)
		taken[s.Name] = true
	}
}
