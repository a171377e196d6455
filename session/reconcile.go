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

package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ausocean/subsync/model"
	"github.com/ausocean/subsync/reconcile"
)

// DedupeReport summarises a dedupe.
type DedupeReport struct {
	Passes   int
	Resolved []string
	Removed  int // Query headers removed.
}

// Dedupe resolves duplicate queries across the named subscriptions, or
// the whole working set. After each pass the texts the chosen master
// could not resolve are offered again; a later pass that is declined
// or cancelled leaves the earlier passes applied.
func (s *Session) Dedupe(ctx context.Context, names ...string) (DedupeReport, error) {
	var rep DedupeReport
	c, err := s.chooser()
	if err != nil {
		return rep, err
	}
	sel, err := s.selection(names)
	if err != nil {
		return rep, err
	}

	plan, err := reconcile.ChooseDedupe(ctx, sel, c)
	if err != nil {
		return rep, err
	}
	for plan != nil {
		err = s.hydrateGroup(ctx, sel, plan.GUG)
		if err != nil {
			return rep, err
		}
		res, err := reconcile.ApplyDedupe(sel, plan, s.env.Loader.Cache().Snapshot())
		if err != nil {
			return rep, err
		}
		for _, name := range res.Absorbed {
			s.edited[name] = true
		}
		rep.Passes++
		rep.Resolved = append(rep.Resolved, res.Resolved...)
		rep.Removed += len(res.Removed)
		s.info("dedupe pass", "gug", plan.GUG, "master", plan.Master.Name, "resolved", len(res.Resolved), "removed", len(res.Removed))

		plan, err = reconcile.NextDedupe(ctx, sel, plan, res.Unresolved, c)
		if errors.Is(err, reconcile.ErrCancelled) || reconcile.IsVeto(err) {
			s.debug("dedupe stopped", "reason", err)
			return rep, nil
		}
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// hydrateGroup loads the containers of every query of the subscriptions
// in subs targeting the named downloader.
func (s *Session) hydrateGroup(ctx context.Context, subs []*model.Subscription, gug string) error {
	var hs []*model.QueryHeader
	for _, sub := range subs {
		if sub.GUG.Name == gug {
			hs = append(hs, sub.QueryHeaders...)
		}
	}
	_, err := s.env.Loader.Hydrate(ctx, hs).Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "could not load query log containers")
	}
	return nil
}

// Merge merges the mergeable subscriptions among the named ones, or the
// whole working set. Every primary and name is chosen before anything
// is merged.
func (s *Session) Merge(ctx context.Context, names ...string) (reconcile.MergeResult, error) {
	c, err := s.chooser()
	if err != nil {
		return reconcile.MergeResult{}, err
	}
	sel, err := s.selection(names)
	if err != nil {
		return reconcile.MergeResult{}, err
	}
	plans, err := reconcile.ChooseMerges(ctx, sel, c)
	if err != nil {
		return reconcile.MergeResult{}, err
	}

	var hs []*model.QueryHeader
	for _, p := range plans {
		hs = append(hs, allHeaders(p.Group)...)
	}
	_, err = s.env.Loader.Hydrate(ctx, hs).Wait(ctx)
	if err != nil {
		return reconcile.MergeResult{}, errors.Wrap(err, "could not load query log containers")
	}

	res := reconcile.ApplyMerges(s.subs, plans)
	s.subs = res.Subscriptions
	s.info("merged subscriptions", "groups", len(plans), "consumed", len(res.Consumed))
	return res, nil
}

// Separate splits the named subscription.
func (s *Session) Separate(ctx context.Context, name string) (reconcile.SeparateResult, error) {
	c, err := s.chooser()
	if err != nil {
		return reconcile.SeparateResult{}, err
	}
	i, sub, err := s.find(name)
	if err != nil {
		return reconcile.SeparateResult{}, err
	}
	opts, err := reconcile.ChooseSeparate(ctx, sub, c)
	if err != nil {
		return reconcile.SeparateResult{}, err
	}

	_, err = s.env.Loader.Hydrate(ctx, sub.QueryHeaders).Wait(ctx)
	if err != nil {
		return reconcile.SeparateResult{}, errors.Wrap(err, "could not load query log containers")
	}

	res, err := reconcile.Separate(sub, opts, s.taken())
	if err != nil {
		return reconcile.SeparateResult{}, err
	}
	var repl []*model.Subscription
	if res.Original != nil {
		repl = append(repl, res.Original)
	}
	repl = append(repl, res.Created...)
	subs := make([]*model.Subscription, 0, len(s.subs)+len(repl)-1)
	subs = append(subs, s.subs[:i]...)
	subs = append(subs, repl...)
	subs = append(subs, s.subs[i+1:]...)
	s.subs = subs
	s.info("separated subscription", "name", name, "mode", opts.Mode, "created", len(res.Created))
	return res, nil
}
