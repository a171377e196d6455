/*
DESCRIPTION
  Package bandwidth limits the request rate of checks per network
  context (everything, a domain, a subscription) and estimates how long
  a query or subscription must wait for bandwidth.

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

// Package bandwidth provides token bucket bandwidth management.
package bandwidth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ausocean/openfish/datastore"
	"github.com/ausocean/utils/logging"

	"github.com/ausocean/subsync/model"
)

const bucketScope = "_bandwidth"

// ContextKind is the kind of a network context.
type ContextKind string

const (
	KindGlobal       ContextKind = "global"
	KindDomain       ContextKind = "domain"
	KindSubscription ContextKind = "subscription"
)

// NetworkContext is one thing whose bandwidth is limited.
type NetworkContext struct {
	Kind ContextKind
	Name string // Empty for the global context.
}

// ID returns the bucket ID of the context.
func (c NetworkContext) ID() string {
	if c.Kind == KindGlobal {
		return string(KindGlobal)
	}
	return string(c.Kind) + ":" + c.Name
}

// Contexts returns the network contexts a check of a query of the
// named subscription against domain uses.
func Contexts(sub, domain string) []NetworkContext {
	return []NetworkContext{
		{Kind: KindGlobal},
		{Kind: KindDomain, Name: domain},
		{Kind: KindSubscription, Name: sub},
	}
}

// Rules holds the bucket rule of each kind of context. PerDomain
// overrides Domain for particular domains.
type Rules struct {
	Global       Rule
	Domain       Rule
	Subscription Rule
	PerDomain    map[string]Rule
}

// DefaultRules returns the rules used when none are given.
func DefaultRules() Rules {
	return Rules{
		Global:       Rule{MaxTokens: 600, RefillRate: 600},
		Domain:       Rule{MaxTokens: 120, RefillRate: 120},
		Subscription: Rule{MaxTokens: 60, RefillRate: 30},
	}
}

func (r Rules) rule(c NetworkContext) Rule {
	switch c.Kind {
	case KindGlobal:
		return r.Global
	case KindDomain:
		if dr, ok := r.PerDomain[c.Name]; ok {
			return dr
		}
		return r.Domain
	default:
		return r.Subscription
	}
}

// Option is a functional option for a Manager.
type Option func(*Manager) error

// WithRules sets the bucket rules.
func WithRules(r Rules) Option {
	return func(m *Manager) error {
		for _, rule := range []Rule{r.Global, r.Domain, r.Subscription} {
			if rule.MaxTokens < 1 || rule.RefillRate < 0 {
				return fmt.Errorf("invalid bandwidth rule %+v", rule)
			}
		}
		m.rules = r
		return nil
	}
}

// WithClock sets the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		m.now = now
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(m *Manager) error {
		m.log = log
		return nil
	}
}

// Manager keeps one token bucket per network context in a datastore.
type Manager struct {
	store datastore.Store
	rules Rules
	now   func() time.Time
	log   logging.Logger
}

// NewManager returns a Manager storing buckets in store.
func NewManager(store datastore.Store, options ...Option) (*Manager, error) {
	m := &Manager{store: store, rules: DefaultRules(), now: time.Now}
	for i, opt := range options {
		err := opt(m)
		if err != nil {
			return nil, fmt.Errorf("could not apply option %d: %w", i, err)
		}
	}
	return m, nil
}

func varName(c NetworkContext) string {
	return bucketScope + "." + c.ID()
}

// bucket returns the stored bucket of c, or a new full one.
func (m *Manager) bucket(ctx context.Context, c NetworkContext) (*Bucket, error) {
	rule := m.rules.rule(c)
	v, err := model.GetVariable(ctx, m.store, varName(c))
	switch {
	case errors.Is(err, datastore.ErrNoSuchEntity):
		return NewBucket(c.ID(), rule, m.now()), nil
	case err != nil:
		return nil, fmt.Errorf("could not get token bucket %s: %w", c.ID(), err)
	}
	b, err := decodeBucket(v.Value)
	if err != nil {
		return nil, err
	}
	b.MaxTokens, b.RefillRate = rule.MaxTokens, rule.RefillRate
	return b, nil
}

// Wait returns how long until every context has bandwidth available.
func (m *Manager) Wait(ctx context.Context, contexts []NetworkContext) (time.Duration, error) {
	now := m.now()
	var wait time.Duration
	for _, c := range contexts {
		b, err := m.bucket(ctx, c)
		if err != nil {
			return 0, err
		}
		if w := b.Wait(now); w > wait {
			wait = w
		}
	}
	return wait, nil
}

// Consume records one completed request against every context.
func (m *Manager) Consume(ctx context.Context, contexts []NetworkContext) error {
	now := m.now()
	for _, c := range contexts {
		rule := m.rules.rule(c)
		id := c.ID()
		var encErr error
		err := model.PutVariableInTransaction(ctx, m.store, varName(c), func(cur string) string {
			b := NewBucket(id, rule, now)
			if cur != "" {
				stored, err := decodeBucket(cur)
				if err == nil {
					b = stored
					b.MaxTokens, b.RefillRate = rule.MaxTokens, rule.RefillRate
				}
			}
			b.Consume(now)
			s, err := b.encode()
			if err != nil {
				encErr = err
				return cur
			}
			return s
		})
		if err == nil {
			err = encErr
		}
		if err != nil {
			return fmt.Errorf("could not consume bandwidth for %s: %w", id, err)
		}
		if m.log != nil {
			m.log.Debug("consumed bandwidth", "context", id)
		}
	}
	return nil
}

// Reset discards the stored state of every context, refilling them.
func (m *Manager) Reset(ctx context.Context) error {
	vars, err := model.GetVariablesByScope(ctx, m.store, bucketScope)
	if err != nil {
		return fmt.Errorf("could not get token buckets: %w", err)
	}
	for _, v := range vars {
		err = model.DeleteVariable(ctx, m.store, v.Name)
		if err != nil {
			return fmt.Errorf("could not delete token bucket %s: %w", v.Name, err)
		}
	}
	return nil
}
