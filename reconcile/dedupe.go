/*
DESCRIPTION
  Dedupe finds query texts that more than one query header holds for
  the same downloader and collapses them into one master subscription.

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
	"fmt"
	"sort"

	"github.com/ausocean/subsync/model"
)

type dupKey struct {
	gug  string
	text string
}

// DuplicateIndex counts query headers per (downloader, query text) key
// over a working set. Only keys held by more than one header are kept.
// An index is never updated; build a new one after any change.
type DuplicateIndex struct {
	Mode    CaseMode
	counts  map[dupKey]int
	owners  map[dupKey][]*model.Subscription
	display map[dupKey]string
}

// NewDuplicateIndex indexes subs in the given mode.
func NewDuplicateIndex(subs []*model.Subscription, mode CaseMode) *DuplicateIndex {
	ix := &DuplicateIndex{
		Mode:    mode,
		counts:  make(map[dupKey]int),
		owners:  make(map[dupKey][]*model.Subscription),
		display: make(map[dupKey]string),
	}
	for _, s := range subs {
		for _, q := range s.QueryHeaders {
			k := dupKey{gug: s.GUG.Name, text: mode.Key(q.QueryText)}
			ix.counts[k]++
			if _, ok := ix.display[k]; !ok {
				ix.display[k] = q.QueryText
			}
			o := ix.owners[k]
			if len(o) == 0 || o[len(o)-1] != s {
				ix.owners[k] = append(o, s)
			}
		}
	}
	for k, n := range ix.counts {
		if n > 1 {
			continue
		}
		delete(ix.counts, k)
		delete(ix.owners, k)
		delete(ix.display, k)
	}
	return ix
}

// Len returns the number of duplicated keys.
func (ix *DuplicateIndex) Len() int {
	return len(ix.counts)
}

// Empty returns true if there are no duplicates.
func (ix *DuplicateIndex) Empty() bool {
	return len(ix.counts) == 0
}

// GUGNames returns the sorted downloader names that have duplicates.
func (ix *DuplicateIndex) GUGNames() []string {
	seen := make(map[string]bool)
	var names []string
	for k := range ix.counts {
		if !seen[k.gug] {
			seen[k.gug] = true
			names = append(names, k.gug)
		}
	}
	sort.Strings(names)
	return names
}

// Texts returns the sorted duplicate texts of a downloader group.
func (ix *DuplicateIndex) Texts(gug string) []string {
	var texts []string
	for k := range ix.counts {
		if k.gug == gug {
			texts = append(texts, ix.display[k])
		}
	}
	sort.Strings(texts)
	return texts
}

// Count returns the number of headers holding text, or zero if text is
// not a duplicate.
func (ix *DuplicateIndex) Count(gug, text string) int {
	return ix.counts[dupKey{gug: gug, text: ix.Mode.Key(text)}]
}

// Owners returns the distinct subscriptions holding a duplicate text.
func (ix *DuplicateIndex) Owners(gug, text string) []*model.Subscription {
	return ix.owners[dupKey{gug: gug, text: ix.Mode.Key(text)}]
}

// MasterCandidate is a subscription that can keep some of a set of
// duplicate texts.
type MasterCandidate struct {
	Subscription *model.Subscription
	Resolvable   int  // Number of selected texts it holds.
	Total        int  // Number of selected texts.
	Full         bool // Holds every selected text.
}

// Label returns the text shown for the candidate in a choice list.
func (c MasterCandidate) Label() string {
	if c.Full {
		return fmt.Sprintf("%s (resolves all %d)", c.Subscription.Name, c.Total)
	}
	return fmt.Sprintf("%s (resolves %d of %d)", c.Subscription.Name, c.Resolvable, c.Total)
}

// MasterCandidates returns the owners of the selected duplicate texts,
// ranked with full coverage first, then by coverage, then by name.
func (ix *DuplicateIndex) MasterCandidates(gug string, texts []string) []MasterCandidate {
	n := make(map[*model.Subscription]int)
	var order []*model.Subscription
	for _, t := range texts {
		for _, s := range ix.Owners(gug, t) {
			if _, ok := n[s]; !ok {
				order = append(order, s)
			}
			n[s]++
		}
	}
	cands := make([]MasterCandidate, len(order))
	for i, s := range order {
		cands[i] = MasterCandidate{Subscription: s, Resolvable: n[s], Total: len(texts), Full: n[s] == len(texts)}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Full != b.Full {
			return a.Full
		}
		if a.Resolvable != b.Resolvable {
			return a.Resolvable > b.Resolvable
		}
		return a.Subscription.Name < b.Subscription.Name
	})
	return cands
}

// DedupePlan holds every choice one dedupe pass needs.
type DedupePlan struct {
	Mode   CaseMode
	GUG    string
	Texts  []string
	Master *model.Subscription
}

// DedupeResult describes the outcome of a dedupe pass.
type DedupeResult struct {
	Resolved   []string             // Texts the master kept.
	Unresolved []string             // Selected texts the master does not hold.
	Removed    []*model.QueryHeader // Headers removed from any subscription.
	Absorbed   []string             // Master containers that absorbed removed history.
}

// ChooseDedupe gathers the choices for a first dedupe pass over subs.
func ChooseDedupe(ctx context.Context, subs []*model.Subscription, c Chooser) (*DedupePlan, error) {
	cased := NewDuplicateIndex(subs, Cased)
	caseless := NewDuplicateIndex(subs, Caseless)
	if caseless.Empty() {
		return nil, Veto("no duplicate queries in the selected subscriptions")
	}

	var ix *DuplicateIndex
	if cased.Empty() {
		ok, err := c.Confirm(ctx, fmt.Sprintf("only caseless duplicates found (%d), resolve them ignoring case?", caseless.Len()))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrCancelled
		}
		ix = caseless
	} else {
		mode, err := c.ChooseCaseMode(ctx, []CaseMode{Cased, Caseless})
		if err != nil {
			return nil, err
		}
		ix = cased
		if mode == Caseless {
			ix = caseless
		}
	}

	gugs := ix.GUGNames()
	gug := gugs[0]
	if len(gugs) > 1 {
		var err error
		gug, err = c.ChooseGUG(ctx, gugs)
		if err != nil {
			return nil, err
		}
		if !contains(gugs, gug) {
			return nil, Veto("%q has no duplicate queries", gug)
		}
	}

	offered := ix.Texts(gug)
	chosen, err := c.ChooseTexts(ctx, "select the duplicate queries to resolve", offered)
	if err != nil {
		return nil, err
	}
	texts := intersect(offered, chosen, ix.Mode)
	if len(texts) == 0 {
		return nil, Veto("no duplicate queries selected")
	}

	master, err := chooseMaster(ctx, ix, gug, texts, c)
	if err != nil {
		return nil, err
	}
	return &DedupePlan{Mode: ix.Mode, GUG: gug, Texts: texts, Master: master}, nil
}

// NextDedupe gathers the choices for another pass over the texts the
// previous pass left unresolved. It returns nil when there is nothing
// left to do, when the user declines, or when the set of texts would
// not shrink, so repeated passes always terminate.
func NextDedupe(ctx context.Context, subs []*model.Subscription, prev *DedupePlan, unresolved []string, c Chooser) (*DedupePlan, error) {
	if len(unresolved) == 0 {
		return nil, nil
	}
	ix := NewDuplicateIndex(subs, prev.Mode)
	var texts []string
	for _, t := range unresolved {
		if ix.Count(prev.GUG, t) > 1 {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 || len(texts) >= len(prev.Texts) {
		return nil, nil
	}

	ok, err := c.Confirm(ctx, fmt.Sprintf("%d selected duplicates remain, choose another master for them?", len(texts)))
	if err != nil || !ok {
		return nil, err
	}
	master, err := chooseMaster(ctx, ix, prev.GUG, texts, c)
	if err != nil {
		return nil, err
	}
	return &DedupePlan{Mode: prev.Mode, GUG: prev.GUG, Texts: texts, Master: master}, nil
}

// chooseMaster auto-selects the master if exactly one candidate holds
// every text and otherwise asks.
func chooseMaster(ctx context.Context, ix *DuplicateIndex, gug string, texts []string, c Chooser) (*model.Subscription, error) {
	cands := ix.MasterCandidates(gug, texts)
	var full []MasterCandidate
	for _, m := range cands {
		if m.Full {
			full = append(full, m)
		}
	}
	if len(full) == 1 {
		return full[0].Subscription, nil
	}
	master, err := c.ChooseMaster(ctx, cands)
	if err != nil {
		return nil, err
	}
	for _, m := range cands {
		if m.Subscription == master {
			return master, nil
		}
	}
	return nil, Veto("the chosen master holds none of the selected duplicates")
}

// ApplyDedupe applies a plan to subs. The master keeps one header per
// text it holds and every other subscription of the same downloader
// loses its headers for those texts. The history of each removed
// header is absorbed into the master's container when both are in
// containers.
func ApplyDedupe(subs []*model.Subscription, plan *DedupePlan, containers map[string]*model.QueryLogContainer) (DedupeResult, error) {
	var res DedupeResult
	master := plan.Master
	caseless := plan.Mode == Caseless

	kept := make(map[string]*model.QueryHeader)
	for _, q := range master.QueryHeaders {
		k := plan.Mode.Key(q.QueryText)
		if _, ok := kept[k]; !ok {
			kept[k] = q
		}
	}
	for _, t := range plan.Texts {
		if _, ok := kept[plan.Mode.Key(t)]; ok {
			res.Resolved = append(res.Resolved, t)
		} else {
			res.Unresolved = append(res.Unresolved, t)
		}
	}
	if len(res.Resolved) == 0 {
		return DedupeResult{}, Veto("%s holds none of the selected duplicates", master.Name)
	}

	res.Removed = master.DedupeQueryTexts(res.Resolved, caseless)
	for _, s := range subs {
		if s == master || s.GUG.Name != plan.GUG {
			continue
		}
		res.Removed = append(res.Removed, s.RemoveQueryTexts(res.Resolved, caseless)...)
	}

	absorbed := make(map[string]bool)
	for _, r := range res.Removed {
		mq := kept[plan.Mode.Key(r.QueryText)]
		mc, ok := containers[mq.ContainerName]
		if !ok {
			continue
		}
		rc, ok := containers[r.ContainerName]
		if !ok || rc == mc {
			continue
		}
		mc.Absorb(rc)
		mq.UpdateFileStatus(mc)
		if !absorbed[mc.Name] {
			absorbed[mc.Name] = true
			res.Absorbed = append(res.Absorbed, mc.Name)
		}
	}
	return res, nil
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}

// intersect returns the members of offered that are in chosen,
// comparing in mode and keeping the order of offered.
func intersect(offered, chosen []string, mode CaseMode) []string {
	want := make(map[string]bool, len(chosen))
	for _, c := range chosen {
		want[mode.Key(c)] = true
	}
	var res []string
	for _, o := range offered {
		if want[mode.Key(o)] {
			res = append(res, o)
		}
	}
	return res
}
