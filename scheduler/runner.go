/*
DESCRIPTION
  Package scheduler checks due queries of every subscription on a
  recurring schedule, applying each outcome to the query's state and
  the subscription's backoff.

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
  in gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

// Package scheduler runs subscription checks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ausocean/openfish/datastore"
	"github.com/ausocean/utils/logging"

	"github.com/ausocean/subsync/bandwidth"
	"github.com/ausocean/subsync/model"
	"github.com/ausocean/subsync/notify"
)

// DefaultErrorBackoff is how long a subscription rests after a failed check.
const DefaultErrorBackoff = 4 * time.Hour

// PassResult summarizes one pass over the subscriptions.
type PassResult struct {
	Checked   int // Queries checked.
	Throttled int // Due queries waiting for bandwidth.
	Skipped   int // Due queries whose URL could not be determined.
	Failed    int // Subscriptions put into backoff.
	NewFiles  int // Seeds added.
}

// Option is a functional option for a Runner.
type Option func(*Runner) error

// WithBandwidth limits checks with a bandwidth manager. The estimator
// supplies each query's network contexts.
func WithBandwidth(m *bandwidth.Manager, e *bandwidth.Estimator) Option {
	return func(r *Runner) error {
		if m == nil || e == nil {
			return errors.New("bandwidth needs a manager and an estimator")
		}
		r.bw, r.est = m, e
		return nil
	}
}

// WithNotifier sets the notifier told about dead, missing and failing queries.
func WithNotifier(n *notify.Notifier) Option {
	return func(r *Runner) error {
		r.notifier = n
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(r *Runner) error {
		r.log = log
		return nil
	}
}

// WithClock sets the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) error {
		r.now = now
		return nil
	}
}

// WithErrorBackoff sets how long a subscription rests after a failed check.
func WithErrorBackoff(d time.Duration) Option {
	return func(r *Runner) error {
		if d <= 0 {
			return fmt.Errorf("invalid error backoff %v", d)
		}
		r.errorBackoff = d
		return nil
	}
}

// Runner checks due queries against a Downloader.
type Runner struct {
	store        datastore.Store
	dl           Downloader
	bw           *bandwidth.Manager
	est          *bandwidth.Estimator
	notifier     *notify.Notifier
	log          logging.Logger
	now          func() time.Time
	errorBackoff time.Duration
}

// NewRunner returns a Runner over the subscriptions in store.
func NewRunner(store datastore.Store, dl Downloader, options ...Option) (*Runner, error) {
	if dl == nil {
		return nil, errors.New("no downloader")
	}
	r := &Runner{store: store, dl: dl, now: time.Now, errorBackoff: DefaultErrorBackoff}
	for i, opt := range options {
		err := opt(r)
		if err != nil {
			return nil, fmt.Errorf("could not apply option %d: %w", i, err)
		}
	}
	return r, nil
}

// RunPass checks every due query of every subscription that may work
// now. A failing subscription is put into backoff and the pass moves
// on; only datastore errors end the pass early.
func (r *Runner) RunPass(ctx context.Context) (PassResult, error) {
	var res PassResult
	subs, err := model.GetAllSubscriptions(ctx, r.store)
	if err != nil {
		return res, fmt.Errorf("could not get subscriptions: %w", err)
	}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !sub.CanWorkNow(r.now()) {
			r.debug("subscription cannot work now", "subscription", sub.Name, "paused", sub.Paused, "until", sub.NoWorkUntil)
			continue
		}
		changed, err := r.runSubscription(ctx, sub, &res)
		if err != nil {
			return res, err
		}
		if !changed {
			continue
		}
		err = model.PutSubscription(ctx, r.store, sub)
		if err != nil {
			return res, fmt.Errorf("could not put subscription %s: %w", sub.Name, err)
		}
	}
	r.info("pass complete", "checked", res.Checked, "throttled", res.Throttled, "skipped", res.Skipped, "failed", res.Failed, "new", res.NewFiles)
	return res, nil
}

// runSubscription checks the due queries of sub, reporting whether sub changed.
func (r *Runner) runSubscription(ctx context.Context, sub *model.Subscription, res *PassResult) (bool, error) {
	var changed bool
	var gug *model.GUG
	g, err := model.GetGUG(ctx, r.store, sub.GUG.Key)
	if err == nil {
		gug = g
	} else {
		r.debug("no gug for subscription", "subscription", sub.Name, "gug", sub.GUG.Key, "error", err)
	}

	for _, q := range sub.QueryHeaders {
		if q.Paused {
			continue
		}

		var c *model.QueryLogContainer
		if !q.Synced {
			c, err = r.container(ctx, q.ContainerName)
			if err != nil {
				return changed, err
			}
			q.SyncToContainer(sub.CheckerOptions, c, r.now())
			changed = true
		}
		if !q.IsDue(r.now()) {
			continue
		}

		var contexts []bandwidth.NetworkContext
		if r.bw != nil {
			contexts, err = r.est.Contexts(ctx, sub, q)
			if err != nil {
				r.warning("could not determine query contexts", "subscription", sub.Name, "query", q.QueryText, "error", err)
				res.Skipped++
				continue
			}
			wait, err := r.bw.Wait(ctx, contexts)
			if err != nil {
				return changed, err
			}
			if wait > 0 {
				r.debug("waiting for bandwidth", "subscription", sub.Name, "query", q.QueryText, "wait", wait)
				res.Throttled++
				continue
			}
		}

		if c == nil {
			c, err = r.container(ctx, q.ContainerName)
			if err != nil {
				return changed, err
			}
		}

		ok, err := r.check(ctx, sub, gug, q, c, res)
		if err != nil {
			return changed, err
		}
		changed = true
		if !ok {
			return changed, nil
		}
		if contexts != nil {
			err = r.bw.Consume(ctx, contexts)
			if err != nil {
				return changed, err
			}
		}
	}
	return changed, nil
}

// check checks one query and records the outcome. It returns false if
// the subscription was put into backoff.
func (r *Runner) check(ctx context.Context, sub *model.Subscription, gug *model.GUG, q *model.QueryHeader, c *model.QueryLogContainer, res *PassResult) (bool, error) {
	limit := sub.PeriodicFileLimit
	if q.LastCheckTime.IsZero() {
		limit = sub.InitialFileLimit
	}
	req := Request{
		Subscription: sub.Name,
		GUG:          sub.GUG,
		Query:        q.QueryText,
		FileLimit:    limit,
		Known:        c.FileSeedCache.Len(),
	}
	if gug != nil {
		req.URL, _ = gug.GenerateURL(q.QueryText)
	}

	before := q.CheckerStatus
	seeds, err := r.dl.Check(ctx, req)
	res.Checked++
	now := r.now()
	switch {
	case errors.Is(err, ErrGalleryNotFound):
		q.RegisterCheck(now, sub.CheckerOptions, c, model.CheckerFourOhFour)
		r.notify(ctx, sub.Name, notify.KindNotFound, fmt.Sprintf("Gallery for query %q of subscription %q was not found. The query will not be checked again until told to.", q.QueryText, sub.Name))

	case err != nil:
		reason := "error: " + err.Error()
		sub.DelayWork(now, r.errorBackoff, reason)
		res.Failed++
		r.warning("check failed", "subscription", sub.Name, "query", q.QueryText, "error", err)
		r.notify(ctx, sub.Name, notify.KindError, fmt.Sprintf("Checking query %q of subscription %q failed: %v. The subscription will rest for %s.", q.QueryText, sub.Name, err, model.FormatDuration(r.errorBackoff)))
		return false, nil

	default:
		if limit > 0 && len(seeds) > limit {
			seeds = seeds[:limit]
		}
		for i := range seeds {
			if seeds[i].Created.IsZero() {
				seeds[i].Created = now
			}
		}
		n := c.FileSeedCache.AddSeeds(seeds...)
		res.NewFiles += n
		q.RegisterCheck(now, sub.CheckerOptions, c, model.CheckerOK)
		r.debug("checked query", "subscription", sub.Name, "query", q.QueryText, "new", n, "status", q.CheckerStatus)
		if q.CheckerStatus == model.CheckerDead && before != model.CheckerDead {
			r.notify(ctx, sub.Name, notify.KindDead, fmt.Sprintf("Query %q of subscription %q is dead, with a velocity of %s.", q.QueryText, sub.Name, q.Velocity))
		}
	}

	err = model.PutQueryLogContainer(ctx, r.store, c)
	if err != nil {
		return false, fmt.Errorf("could not put query log container %s: %w", c.Name, err)
	}
	return true, nil
}

// container gets the named container, creating it if it is missing.
func (r *Runner) container(ctx context.Context, name string) (*model.QueryLogContainer, error) {
	c, err := model.GetQueryLogContainer(ctx, r.store, name)
	switch {
	case errors.Is(err, model.ErrDataMissing):
		r.warning("query log container missing, starting afresh", "container", name)
		c = model.NewQueryLogContainer(name)
		err = model.PutQueryLogContainer(ctx, r.store, c)
		if err != nil {
			return nil, fmt.Errorf("could not put query log container %s: %w", name, err)
		}
		return c, nil
	case err != nil:
		return nil, err
	}
	return c, nil
}

func (r *Runner) notify(ctx context.Context, sub string, kind notify.Kind, msg string) {
	r.info("notifying", "subscription", sub, "kind", kind)
	if r.notifier == nil {
		return
	}
	err := r.notifier.Send(ctx, sub, kind, msg)
	if err != nil {
		r.warning("could not send notification", "subscription", sub, "kind", kind, "error", err)
	}
}

func (r *Runner) debug(msg string, args ...interface{}) {
	if r.log != nil {
		r.log.Debug(msg, args...)
	}
}

func (r *Runner) info(msg string, args ...interface{}) {
	if r.log != nil {
		r.log.Info(msg, args...)
	}
}

func (r *Runner) warning(msg string, args ...interface{}) {
	if r.log != nil {
		r.log.Warning(msg, args...)
	}
}
