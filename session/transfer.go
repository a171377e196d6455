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
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/ausocean/subsync/model"
	"github.com/ausocean/subsync/reconcile"
)

// ExportKind is the format of an export.
type ExportKind int

const (
	ExportEnvelope ExportKind = iota // Subscription and containers as JSON.
	ExportTexts                      // Query texts, one per line.
)

// String implements fmt.Stringer.
func (k ExportKind) String() string {
	switch k {
	case ExportEnvelope:
		return "envelope"
	case ExportTexts:
		return "texts"
	default:
		return fmt.Sprintf("ExportKind(%d)", int(k))
	}
}

// ParseExportKind parses the String form of an ExportKind.
func ParseExportKind(s string) (ExportKind, error) {
	switch s {
	case "envelope", "":
		return ExportEnvelope, nil
	case "texts":
		return ExportTexts, nil
	}
	return 0, fmt.Errorf("unknown export kind %q", s)
}

// Export returns the named subscription in the given format. An
// envelope needs every container of the subscription.
func (s *Session) Export(ctx context.Context, name string, kind ExportKind) ([]byte, error) {
	_, sub, err := s.find(name)
	if err != nil {
		return nil, err
	}

	switch kind {
	case ExportTexts:
		return []byte(strings.Join(sub.QueryTexts(), "\n") + "\n"), nil

	case ExportEnvelope:
		_, err = s.env.Loader.Hydrate(ctx, sub.QueryHeaders).Wait(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not load query log containers")
		}
		env, err := model.ExportSubscription(sub, s.env.Loader.Cache().Snapshot())
		if err != nil {
			return nil, err
		}
		return env.Encode(), nil

	default:
		return nil, reconcile.Veto("unknown export kind %v", kind)
	}
}

// Import adds the subscription of an exported envelope to the working
// set, under a new name if its name is taken. Every container is given
// a fresh name. If the envelope lacks containers the user is asked
// whether to go ahead, leaving those queries with no history.
func (s *Session) Import(ctx context.Context, data []byte) (*model.Subscription, error) {
	env, err := model.DecodeSubscriptionExport(data)
	if err != nil {
		return nil, reconcile.Veto("%v", err)
	}

	missing := env.MissingContainers()
	if len(missing) > 0 {
		c, err := s.chooser()
		if err != nil {
			return nil, err
		}
		q := fmt.Sprintf("%d queries of %s have no stored history (%s), import them anyway?", len(missing), env.Subscription.Name, strings.Join(missing, ", "))
		ok, err := c.Confirm(ctx, q)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, reconcile.ErrCancelled
		}
	}

	sub, containers, err := model.ImportSubscription(env, len(missing) > 0)
	if err != nil {
		return nil, err
	}
	sub.Name = reconcile.NonDupeName(sub.Name, s.taken())
	for _, c := range containers {
		s.env.Loader.Cache().Set(c)
		s.edited[c.Name] = true
	}
	s.subs = append(s.subs, sub)
	s.info("imported subscription", "name", sub.Name, "queries", len(sub.QueryHeaders), "missing", len(missing))
	return sub, nil
}
