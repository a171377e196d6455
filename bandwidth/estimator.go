/*
LICENSE
  Copyright (C) 2026 the Australian Ocean Lab (AusOcean)

  This is free software: you can redistribute it and/or modify it
  under the terms of the GNU General Public License as published by
  the Free Software Foundation, either version 3 of the License, or
  (at your option) any later version.

  It is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see <http://www.gnu.org/licenses/>.
*/

package bandwidth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ausocean/openfish/datastore"

	"github.com/ausocean/subsync/model"
)

// ErrMalformedURL is returned when a query's URL, and so its domain,
// cannot be determined.
var ErrMalformedURL = errors.New("malformed url")

// StatusUnknown is shown when a wait cannot be estimated.
const StatusUnknown = "could not determine"

// GUGSource looks up gallery URL generators by key.
type GUGSource interface {
	GetGUG(ctx context.Context, key string) (*model.GUG, error)
}

// StoreGUGs reads GUGs from a datastore.
type StoreGUGs struct {
	Store datastore.Store
}

// GetGUG implements GUGSource.
func (s StoreGUGs) GetGUG(ctx context.Context, key string) (*model.GUG, error) {
	return model.GetGUG(ctx, s.Store, key)
}

// Waiter reports how long a set of network contexts must wait.
type Waiter interface {
	Wait(ctx context.Context, contexts []NetworkContext) (time.Duration, error)
}

// Estimator estimates bandwidth waits of queries and subscriptions.
type Estimator struct {
	gugs   GUGSource
	waiter Waiter
}

// NewEstimator returns an Estimator.
func NewEstimator(gugs GUGSource, w Waiter) *Estimator {
	return &Estimator{gugs: gugs, waiter: w}
}

// Domain returns the second level domain a query is checked against,
// e.g., "example.com" for "https://www.example.com/search?q=x".
func (e *Estimator) Domain(ctx context.Context, sub *model.Subscription, q *model.QueryHeader) (string, error) {
	gug, err := e.gugs.GetGUG(ctx, sub.GUG.Key)
	if err != nil {
		return "", fmt.Errorf("could not get gug %s: %w", sub.GUG.Key, err)
	}
	raw, err := gug.GenerateURL(q.QueryText)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedURL, raw)
	}
	return secondLevelDomain(u.Hostname()), nil
}

// Contexts returns the network contexts a check of q uses.
func (e *Estimator) Contexts(ctx context.Context, sub *model.Subscription, q *model.QueryHeader) ([]NetworkContext, error) {
	domain, err := e.Domain(ctx, sub, q)
	if err != nil {
		return nil, err
	}
	return Contexts(sub.Name, domain), nil
}

// EstimateQuery returns how long q must wait for bandwidth.
func (e *Estimator) EstimateQuery(ctx context.Context, sub *model.Subscription, q *model.QueryHeader) (time.Duration, error) {
	cs, err := e.Contexts(ctx, sub, q)
	if err != nil {
		return 0, err
	}
	return e.waiter.Wait(ctx, cs)
}

// EstimateSubscription returns the shortest and longest waits over the
// queries of sub that expect to work, never less than the time left on
// the subscription's backoff.
func (e *Estimator) EstimateSubscription(ctx context.Context, sub *model.Subscription, now time.Time) (lo, hi time.Duration, err error) {
	floor := sub.NoWorkUntil.Sub(now)
	if floor < 0 {
		floor = 0
	}
	first := true
	for _, q := range sub.QueryHeaders {
		if !q.IsExpectingToWorkInFuture() {
			continue
		}
		w, err := e.EstimateQuery(ctx, sub, q)
		if err != nil {
			return 0, 0, err
		}
		if first || w < lo {
			lo = w
		}
		if first || w > hi {
			hi = w
		}
		first = false
	}
	if lo < floor {
		lo = floor
	}
	if hi < floor {
		hi = floor
	}
	return lo, hi, nil
}

// WaitStatus turns an estimate into a status and a delay. An error
// gives StatusUnknown and no delay.
func WaitStatus(d time.Duration, err error) (string, time.Duration) {
	switch {
	case err != nil:
		return StatusUnknown, 0
	case d <= 0:
		return "bandwidth available", 0
	case d == Never:
		return "no bandwidth", d
	default:
		return "bandwidth free in " + model.FormatDuration(d), d
	}
}

// secondLevelDomain returns the last two labels of host, or host if it
// is an IP address.
func secondLevelDomain(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	labels := strings.Split(strings.ToLower(host), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
