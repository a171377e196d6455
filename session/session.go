/*
DESCRIPTION
  Package session provides an editing session over a working set of
  subscriptions. A session gathers the user's choices for an operation,
  loads the query log containers the operation touches, applies it in
  memory and finally hands the edited set to a Committer.

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

// Package session edits a working set of subscriptions.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/ausocean/subsync/bandwidth"
	"github.com/ausocean/subsync/loader"
	"github.com/ausocean/subsync/model"
	"github.com/ausocean/subsync/reconcile"
)

var (
	ErrNoSubscription  = errors.New("no such subscription")
	ErrDuplicateName   = errors.New("duplicate subscription name")
	ErrSharedContainer = errors.New("query log container shared by two queries")
)

// Env holds the collaborators of a session.
type Env struct {
	Loader    *loader.Loader       // Required.
	Chooser   reconcile.Chooser    // Required by operations that ask the user.
	Estimator *bandwidth.Estimator // Required by Estimate.
	Log       logging.Logger       // Optional.
	Now       func() time.Time     // Optional, defaults to time.Now.
}

// Session is an editing session. It owns copies of the subscriptions
// it was opened with; nothing is persisted until Commit.
type Session struct {
	env    Env
	subs   []*model.Subscription
	stored map[string]bool // Containers known to be persisted.
	edited map[string]bool // Containers whose contents changed.
}

// Open starts a session over subs. Every container the subscriptions
// reference must exist: a missing container fails the open.
func Open(ctx context.Context, subs []*model.Subscription, env Env) (*Session, error) {
	if env.Loader == nil {
		return nil, errors.New("session requires a loader")
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	s := &Session{env: env, stored: make(map[string]bool), edited: make(map[string]bool)}

	names := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if names[sub.Name] {
			return nil, errors.Wrap(ErrDuplicateName, sub.Name)
		}
		names[sub.Name] = true
		s.subs = append(s.subs, sub.Clone())
	}

	headers := allHeaders(s.subs)
	for _, q := range headers {
		if s.stored[q.ContainerName] {
			return nil, errors.Wrapf(ErrSharedContainer, "%s (%q)", q.ContainerName, q.QueryText)
		}
		s.stored[q.ContainerName] = true
	}

	_, err := env.Loader.HydrateStrict(ctx, headers).Wait(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not load query log containers")
	}
	s.debug("opened session", "subscriptions", len(s.subs), "queries", len(headers))
	return s, nil
}

// Subscriptions returns the working set. The subscriptions are owned
// by the session and must not be modified.
func (s *Session) Subscriptions() []*model.Subscription {
	return s.subs
}

// Subscription returns the named subscription.
func (s *Session) Subscription(name string) (*model.Subscription, error) {
	_, sub, err := s.find(name)
	return sub, err
}

// Container returns a loaded container.
func (s *Session) Container(name string) (*model.QueryLogContainer, bool) {
	return s.env.Loader.Cache().Get(name)
}

// Result is what a session hands to its Committer.
type Result struct {
	Subscriptions    []*model.Subscription
	EditedContainers []*model.QueryLogContainer
	DeleteeNames     []string // Containers no live query claims.
}

// Result returns the edited working set. A container is a deletee if it
// was persisted and no query in the working set references it.
func (s *Session) Result() Result {
	live := make(map[string]bool)
	for _, q := range allHeaders(s.subs) {
		live[q.ContainerName] = true
	}

	var r Result
	for _, sub := range s.subs {
		r.Subscriptions = append(r.Subscriptions, sub.Clone())
	}
	for _, name := range sortedKeys(s.edited) {
		if !live[name] {
			continue
		}
		if c, ok := s.Container(name); ok {
			r.EditedContainers = append(r.EditedContainers, c)
		}
	}
	for _, name := range sortedKeys(s.stored) {
		if !live[name] {
			r.DeleteeNames = append(r.DeleteeNames, name)
		}
	}
	return r
}

// find returns the index and subscription named name.
func (s *Session) find(name string) (int, *model.Subscription, error) {
	for i, sub := range s.subs {
		if sub.Name == name {
			return i, sub, nil
		}
	}
	return -1, nil, errors.Wrapf(ErrNoSubscription, "%q", name)
}

// selection returns the named subscriptions in working set order, or
// the whole working set if no names are given.
func (s *Session) selection(names []string) ([]*model.Subscription, error) {
	if len(names) == 0 {
		return s.subs, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, _, err := s.find(n); err != nil {
			return nil, err
		}
		want[n] = true
	}
	var sel []*model.Subscription
	for _, sub := range s.subs {
		if want[sub.Name] {
			sel = append(sel, sub)
		}
	}
	return sel, nil
}

// taken returns the subscription names in use.
func (s *Session) taken() map[string]bool {
	return reconcile.Names(s.subs)
}

// newContainers gives each header a fresh empty container and syncs it.
func (s *Session) newContainers(sub *model.Subscription, headers []*model.QueryHeader) {
	now := s.env.Now()
	for _, q := range headers {
		c := model.NewQueryLogContainer(q.ContainerName)
		s.env.Loader.Cache().Set(c)
		s.edited[c.Name] = true
		q.SyncToContainer(sub.CheckerOptions, c, now)
	}
}

// chooser returns the chooser, or a veto if there is none.
func (s *Session) chooser() (reconcile.Chooser, error) {
	if s.env.Chooser == nil {
		return nil, reconcile.Veto("this operation needs a chooser")
	}
	return s.env.Chooser, nil
}

func (s *Session) debug(msg string, args ...interface{}) {
	if s.env.Log != nil {
		s.env.Log.Debug(msg, args...)
	}
}

func (s *Session) info(msg string, args ...interface{}) {
	if s.env.Log != nil {
		s.env.Log.Info(msg, args...)
	}
}

func allHeaders(subs []*model.Subscription) []*model.QueryHeader {
	var hs []*model.QueryHeader
	for _, sub := range subs {
		hs = append(hs, sub.QueryHeaders...)
	}
	return hs
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
