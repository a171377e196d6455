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
	"time"

	"github.com/ausocean/subsync/bandwidth"
	"github.com/ausocean/subsync/reconcile"
)

// QueryEstimate is the bandwidth estimate of one query.
type QueryEstimate struct {
	Query  string
	Status string        // Query status, or bandwidth status when due.
	Delay  time.Duration // Zero if the wait could not be determined.
}

// Estimate is the bandwidth estimate of a subscription.
type Estimate struct {
	Subscription string
	Min, Max     time.Duration
	Known        bool // False if the subscription wait could not be determined.
	Queries      []QueryEstimate
}

// Estimate estimates how long the named subscription and each of its
// queries must wait for bandwidth. A malformed query URL does not fail
// the estimate; that query's wait is reported as undetermined.
func (s *Session) Estimate(ctx context.Context, name string) (Estimate, error) {
	if s.env.Estimator == nil {
		return Estimate{}, reconcile.Veto("bandwidth estimates are unavailable")
	}
	_, sub, err := s.find(name)
	if err != nil {
		return Estimate{}, err
	}
	now := s.env.Now()
	est := Estimate{Subscription: sub.Name}

	for _, q := range sub.QueryHeaders {
		qe := QueryEstimate{Query: q.Name(), Status: q.Status(now)}
		if q.IsDue(now) {
			d, err := s.env.Estimator.EstimateQuery(ctx, sub, q)
			if err != nil {
				s.debug("could not estimate query", "query", q.QueryText, "error", err)
			}
			qe.Status, qe.Delay = bandwidth.WaitStatus(d, err)
		}
		est.Queries = append(est.Queries, qe)
	}

	est.Min, est.Max, err = s.env.Estimator.EstimateSubscription(ctx, sub, now)
	if err != nil {
		s.debug("could not estimate subscription", "name", sub.Name, "error", err)
		est.Min, est.Max = 0, 0
		return est, nil
	}
	est.Known = true
	return est, nil
}
