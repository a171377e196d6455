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

	"github.com/ausocean/subsync/loader"
	"github.com/ausocean/subsync/model"
	"github.com/ausocean/subsync/reconcile"
)

// Add adds a new subscription to the working set. Its queries get
// fresh empty containers.
func (s *Session) Add(sub *model.Subscription) error {
	if s.taken()[sub.Name] {
		return reconcile.Veto("a subscription named %q already exists", sub.Name)
	}
	sub = sub.Clone()
	for _, q := range sub.QueryHeaders {
		q.ContainerName = model.NewContainerName()
	}
	s.newContainers(sub, sub.QueryHeaders)
	s.subs = append(s.subs, sub)
	s.info("added subscription", "name", sub.Name, "queries", len(sub.QueryHeaders))
	return nil
}

// Delete removes the named subscriptions. Their containers become
// deletees.
func (s *Session) Delete(names ...string) error {
	if len(names) == 0 {
		return reconcile.Veto("no subscriptions selected")
	}
	del, err := s.selection(names)
	if err != nil {
		return err
	}
	gone := make(map[*model.Subscription]bool, len(del))
	for _, sub := range del {
		gone[sub] = true
	}
	var kept []*model.Subscription
	for _, sub := range s.subs {
		if !gone[sub] {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
	s.info("deleted subscriptions", "names", names)
	return nil
}

// AddQuery adds queries with the given texts to the named subscription.
// Nothing is added if any text is already present, ignoring case.
func (s *Session) AddQuery(name string, texts ...string) error {
	_, sub, err := s.find(name)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return reconcile.Veto("no queries given")
	}
	headers := make([]*model.QueryHeader, len(texts))
	for i, t := range texts {
		headers[i] = model.NewQueryHeader(t)
	}
	err = sub.AddQueryHeaders(headers...)
	if errors.Is(err, model.ErrDuplicateQuery) {
		return reconcile.Veto("%v", err)
	}
	if err != nil {
		return err
	}
	s.newContainers(sub, headers)
	return nil
}

// RemoveQueries removes the queries with the given texts, ignoring
// case, from the named subscription. Their containers become deletees.
func (s *Session) RemoveQueries(name string, texts ...string) ([]*model.QueryHeader, error) {
	_, sub, err := s.find(name)
	if err != nil {
		return nil, err
	}
	removed := sub.RemoveQueryTexts(texts, true)
	if len(removed) == 0 {
		return nil, reconcile.Veto("%s has none of the given queries", name)
	}
	return removed, nil
}

// CheckNow asks for the named subscription's queries with the given
// texts, or all of them, to be checked on the next run.
func (s *Session) CheckNow(name string, texts ...string) error {
	_, sub, err := s.find(name)
	if err != nil {
		return err
	}
	sub.CheckNow(texts...)
	return nil
}

// PausePlay toggles the paused flag of the named subscription, or of
// its queries with the given texts.
func (s *Session) PausePlay(name string, texts ...string) error {
	_, sub, err := s.find(name)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		sub.PausePlay()
		return nil
	}
	for _, t := range texts {
		q, ok := sub.Header(t)
		if !ok {
			return reconcile.Veto("%s has no query %q", name, t)
		}
		q.PausePlay()
	}
	return nil
}

// SetCheckerOptions sets the checker options of the named
// subscriptions. Their queries recalculate on the next run.
func (s *Session) SetCheckerOptions(opts model.CheckerOptions, names ...string) error {
	err := opts.Validate()
	if err != nil {
		return reconcile.Veto("%v", err)
	}
	sel, err := s.selection(names)
	if err != nil {
		return err
	}
	for _, sub := range sel {
		sub.SetCheckerOptions(opts)
	}
	return nil
}

// headers returns the queries of sub with the given texts, or all.
func headers(sub *model.Subscription, texts []string) ([]*model.QueryHeader, error) {
	if len(texts) == 0 {
		return sub.QueryHeaders, nil
	}
	var hs []*model.QueryHeader
	for _, t := range texts {
		q, ok := sub.Header(t)
		if !ok {
			return nil, reconcile.Veto("%s has no query %q", sub.Name, t)
		}
		hs = append(hs, q)
	}
	return hs, nil
}

// withContainers loads the containers of the given queries of the named
// subscription and runs fn on each query whose container exists.
func (s *Session) withContainers(ctx context.Context, name string, texts []string, fn func(*model.Subscription, *model.QueryHeader, *model.QueryLogContainer)) (int, error) {
	_, sub, err := s.find(name)
	if err != nil {
		return 0, err
	}
	hs, err := headers(sub, texts)
	if err != nil {
		return 0, err
	}
	var n int
	err = loader.Do(ctx, s.env.Loader, hs, func(loader.Result) error {
		for _, q := range hs {
			c, ok := s.Container(q.ContainerName)
			if !ok {
				s.debug("skipping query with missing container", "query", q.QueryText)
				continue
			}
			fn(sub, q, c)
			s.edited[c.Name] = true
			n++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "could not load query log containers")
	}
	return n, nil
}

// Reset clears the history of the given queries of the named
// subscription, or of all of them. It returns the number reset.
func (s *Session) Reset(ctx context.Context, name string, texts ...string) (int, error) {
	return s.withContainers(ctx, name, texts, func(_ *model.Subscription, q *model.QueryHeader, c *model.QueryLogContainer) {
		q.Reset(c)
	})
}

// RetryFailed queues failed files again. It returns the number of
// files queued.
func (s *Session) RetryFailed(ctx context.Context, name string, texts ...string) (int, error) {
	var files int
	now := s.env.Now()
	_, err := s.withContainers(ctx, name, texts, func(_ *model.Subscription, q *model.QueryHeader, c *model.QueryLogContainer) {
		files += q.RetryFailed(now, c)
	})
	return files, err
}

// RetryIgnored queues vetoed and skipped files again. It returns the
// number of files queued.
func (s *Session) RetryIgnored(ctx context.Context, name string, texts ...string) (int, error) {
	var files int
	now := s.env.Now()
	_, err := s.withContainers(ctx, name, texts, func(_ *model.Subscription, q *model.QueryHeader, c *model.QueryLogContainer) {
		files += q.RetryIgnored(now, c)
	})
	return files, err
}

// Sync recalculates the unsynced queries of the named subscriptions,
// or of the whole working set. It returns the number synced.
func (s *Session) Sync(ctx context.Context, names ...string) (int, error) {
	sel, err := s.selection(names)
	if err != nil {
		return 0, err
	}
	now := s.env.Now()
	var n int
	for _, sub := range sel {
		var texts []string
		for _, q := range sub.QueryHeaders {
			if q.State() == model.StateUnsynced {
				texts = append(texts, q.QueryText)
			}
		}
		if len(texts) == 0 {
			continue
		}
		synced, err := s.withContainers(ctx, sub.Name, texts, func(sub *model.Subscription, q *model.QueryHeader, c *model.QueryLogContainer) {
			q.SyncToContainer(sub.CheckerOptions, c, now)
		})
		if err != nil {
			return n, err
		}
		n += synced
	}
	return n, nil
}
