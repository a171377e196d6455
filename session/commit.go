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

	"github.com/ausocean/openfish/datastore"
	"github.com/pkg/errors"

	"github.com/ausocean/subsync/model"
)

// Committer persists the result of a session. Edited containers are
// written, deletees deleted and the stored subscription set replaced by
// the result's subscriptions.
type Committer interface {
	Commit(ctx context.Context, r Result) error
}

// StoreCommitter commits to a datastore. The session's working set is
// taken to be every stored subscription, so stored subscriptions
// missing from the result are deleted.
type StoreCommitter struct {
	Store datastore.Store
}

// Commit implements Committer. Containers are written before the
// subscriptions that reference them and deleted after.
func (sc StoreCommitter) Commit(ctx context.Context, r Result) error {
	for _, c := range r.EditedContainers {
		err := model.PutQueryLogContainer(ctx, sc.Store, c)
		if err != nil {
			return errors.Wrapf(err, "could not put container %s", c.Name)
		}
	}

	stored, err := model.GetAllSubscriptions(ctx, sc.Store)
	if err != nil {
		return errors.Wrap(err, "could not get stored subscriptions")
	}
	keep := make(map[string]bool, len(r.Subscriptions))
	for _, sub := range r.Subscriptions {
		err = model.PutSubscription(ctx, sc.Store, sub)
		if err != nil {
			return errors.Wrapf(err, "could not put subscription %s", sub.Name)
		}
		keep[sub.Name] = true
	}
	var gone []string
	for _, sub := range stored {
		if !keep[sub.Name] {
			gone = append(gone, sub.Name)
		}
	}
	if len(gone) > 0 {
		err = model.DeleteSubscriptions(ctx, sc.Store, gone)
		if err != nil {
			return errors.Wrap(err, "could not delete subscriptions")
		}
	}

	if len(r.DeleteeNames) > 0 {
		err = model.DeleteQueryLogContainers(ctx, sc.Store, r.DeleteeNames)
		if err != nil {
			return errors.Wrap(err, "could not delete containers")
		}
	}
	return nil
}

// Commit hands the session's result to c. If c fails the session is
// left as it was so the commit can be retried.
func (s *Session) Commit(ctx context.Context, c Committer) error {
	r := s.Result()
	err := c.Commit(ctx, r)
	if err != nil {
		return errors.Wrap(err, "could not commit session")
	}
	for _, name := range r.DeleteeNames {
		delete(s.stored, name)
		s.env.Loader.Cache().Delete(name)
	}
	for _, qlc := range r.EditedContainers {
		s.stored[qlc.Name] = true
	}
	s.edited = make(map[string]bool)
	s.info("committed session", "subscriptions", len(r.Subscriptions), "containers", len(r.EditedContainers), "deleted", len(r.DeleteeNames))
	return nil
}
