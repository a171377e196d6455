/*
DESCRIPTION
  Subscription datastore type and functions. A subscription is a named,
  recurring multi-query download job against one source type.

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

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ausocean/openfish/datastore"
)

const (
	typeSubscription = "Subscription" // Subscription datastore type.
)

// Default file limits of a new subscription.
const (
	DefaultInitialFileLimit  = 100
	DefaultPeriodicFileLimit = 100
)

var ErrDuplicateQuery = errors.New("duplicate query text")

// GUGKeyAndName identifies the gallery URL generator, i.e., the
// downloader a subscription targets. Subscriptions are compared by Name.
type GUGKeyAndName struct {
	Key  string
	Name string
}

// FileImportOptions are the file import rules shared by a subscription's queries.
type FileImportOptions struct {
	ExcludeDeleted bool
	MinSize        int64
	MaxSize        int64 // Zero means no limit.
	AllowedMimes   []string
}

// Subscription is an entity in the datastore representing a named
// group of queries that share one downloader and one set of options.
type Subscription struct {
	Name              string
	GUG               GUGKeyAndName
	QueryHeaders      []*QueryHeader // Order is for display only.
	CheckerOptions    CheckerOptions
	InitialFileLimit  int
	PeriodicFileLimit int
	Paused            bool
	FileImportOptions FileImportOptions
	TagImportOptions  TagImportOptions
	NoWorkUntil       time.Time // Subscription-wide backoff.
	NoWorkUntilReason string

	// Presentation.
	PublishFilesToPopup  bool
	PublishFilesToPage   bool
	PublishLabel         string
	MergeQueryPublishing bool
}

// NewSubscription returns an empty subscription with default options.
func NewSubscription(name string, gug GUGKeyAndName) *Subscription {
	return &Subscription{
		Name:               name,
		GUG:                gug,
		CheckerOptions:     DefaultCheckerOptions(),
		InitialFileLimit:   DefaultInitialFileLimit,
		PeriodicFileLimit:  DefaultPeriodicFileLimit,
		PublishFilesToPage: true,
	}
}

// QueryTexts returns the query texts in display order.
func (s *Subscription) QueryTexts() []string {
	texts := make([]string, len(s.QueryHeaders))
	for i, q := range s.QueryHeaders {
		texts[i] = q.QueryText
	}
	return texts
}

// Header returns the first header whose text equals text, ignoring case.
func (s *Subscription) Header(text string) (*QueryHeader, bool) {
	k := textKey(text, true)
	for _, q := range s.QueryHeaders {
		if textKey(q.QueryText, true) == k {
			return q, true
		}
	}
	return nil, false
}

// AddQueryHeaders appends headers. No header is added if any of them
// repeats a query text already present, ignoring case.
func (s *Subscription) AddQueryHeaders(headers ...*QueryHeader) error {
	seen := make(map[string]bool, len(s.QueryHeaders)+len(headers))
	for _, q := range s.QueryHeaders {
		seen[textKey(q.QueryText, true)] = true
	}
	for _, q := range headers {
		k := textKey(q.QueryText, true)
		if seen[k] {
			return fmt.Errorf("%w: %q already in %s", ErrDuplicateQuery, q.QueryText, s.Name)
		}
		seen[k] = true
	}
	s.QueryHeaders = append(s.QueryHeaders, headers...)
	return nil
}

// RemoveQueryTexts removes every header matching one of texts and
// returns the removed headers.
func (s *Subscription) RemoveQueryTexts(texts []string, caseless bool) []*QueryHeader {
	remove := make(map[string]bool, len(texts))
	for _, t := range texts {
		remove[textKey(t, caseless)] = true
	}
	var kept, removed []*QueryHeader
	for _, q := range s.QueryHeaders {
		if remove[textKey(q.QueryText, caseless)] {
			removed = append(removed, q)
			continue
		}
		kept = append(kept, q)
	}
	s.QueryHeaders = kept
	return removed
}

// DedupeQueryTexts keeps only the first header for each of texts,
// removing and returning any later headers with the same text.
func (s *Subscription) DedupeQueryTexts(texts []string, caseless bool) []*QueryHeader {
	dedupe := make(map[string]bool, len(texts))
	for _, t := range texts {
		dedupe[textKey(t, caseless)] = true
	}
	seen := make(map[string]bool)
	var kept, removed []*QueryHeader
	for _, q := range s.QueryHeaders {
		k := textKey(q.QueryText, caseless)
		if dedupe[k] && seen[k] {
			removed = append(removed, q)
			continue
		}
		seen[k] = true
		kept = append(kept, q)
	}
	s.QueryHeaders = kept
	return removed
}

// CanMergeWith returns true if other targets the same downloader.
func (s *Subscription) CanMergeWith(other *Subscription) bool {
	return s.GUG.Name == other.GUG.Name
}

// Merge moves the query headers of others into s. A subscription that
// cannot merge, or that still holds headers whose text s already has,
// is returned as unmergeable rather than dropped.
func (s *Subscription) Merge(others []*Subscription) (unmergeable []*Subscription) {
	for _, o := range others {
		if o == s {
			continue
		}
		if !s.CanMergeWith(o) {
			unmergeable = append(unmergeable, o)
			continue
		}
		var left []*QueryHeader
		for _, q := range o.QueryHeaders {
			if _, ok := s.Header(q.QueryText); ok {
				left = append(left, q)
				continue
			}
			s.QueryHeaders = append(s.QueryHeaders, q)
		}
		o.QueryHeaders = left
		if len(left) > 0 {
			unmergeable = append(unmergeable, o)
		}
	}
	return unmergeable
}

// Duplicate returns a deep copy of s named name. Query headers are
// copied with their container names.
func (s *Subscription) Duplicate(name string) *Subscription {
	s2 := s.Clone()
	s2.Name = name
	return s2
}

// Separate removes headers from s and returns one single-query
// subscription per header, named "{base}: {query text}".
func (s *Subscription) Separate(base string, headers []*QueryHeader) []*Subscription {
	texts := make([]string, len(headers))
	for i, q := range headers {
		texts[i] = q.QueryText
	}
	removed := s.RemoveQueryTexts(texts, false)
	subs := make([]*Subscription, 0, len(removed))
	for _, q := range removed {
		s2 := s.Duplicate(base + ": " + q.QueryText)
		s2.QueryHeaders = []*QueryHeader{q}
		subs = append(subs, s2)
	}
	return subs
}

// SetCheckerOptions sets the checker options, invalidating every header
// if they changed.
func (s *Subscription) SetCheckerOptions(opts CheckerOptions) {
	if opts == s.CheckerOptions {
		return
	}
	s.CheckerOptions = opts
	for _, q := range s.QueryHeaders {
		q.Invalidate()
	}
}

// CheckNow requests a check of the queries with the given texts, or of
// all queries if none are given, and clears the subscription backoff.
func (s *Subscription) CheckNow(texts ...string) {
	want := make(map[string]bool, len(texts))
	for _, t := range texts {
		want[textKey(t, true)] = true
	}
	for _, q := range s.QueryHeaders {
		if len(texts) == 0 || want[textKey(q.QueryText, true)] {
			q.CheckNow()
		}
	}
	s.NoWorkUntil = time.Time{}
	s.NoWorkUntilReason = ""
}

// PausePlay toggles the paused flag.
func (s *Subscription) PausePlay() {
	s.Paused = !s.Paused
}

// DelayWork prevents any work on the subscription for d from now.
func (s *Subscription) DelayWork(now time.Time, d time.Duration, reason string) {
	s.NoWorkUntil = now.Add(d)
	s.NoWorkUntilReason = reason
}

// CanWorkNow returns true if the subscription is neither paused nor backing off.
func (s *Subscription) CanWorkNow(now time.Time) bool {
	return !s.Paused && !now.Before(s.NoWorkUntil)
}

// ContainerNames returns the container names of every header.
func (s *Subscription) ContainerNames() []string {
	names := make([]string, len(s.QueryHeaders))
	for i, q := range s.QueryHeaders {
		names[i] = q.ContainerName
	}
	return names
}

// Clone returns a deep copy of s.
func (s *Subscription) Clone() *Subscription {
	s2 := *s
	s2.QueryHeaders = make([]*QueryHeader, len(s.QueryHeaders))
	for i, q := range s.QueryHeaders {
		s2.QueryHeaders[i] = q.Copy()
	}
	s2.TagImportOptions = s.TagImportOptions.Copy()
	if s.FileImportOptions.AllowedMimes != nil {
		s2.FileImportOptions.AllowedMimes = append([]string(nil), s.FileImportOptions.AllowedMimes...)
	}
	return &s2
}

// Encode serializes a Subscription into JSON.
func (s *Subscription) Encode() []byte {
	bytes, _ := json.Marshal(s)
	return bytes
}

// Decode deserializes a Subscription from JSON.
func (s *Subscription) Decode(b []byte) error {
	err := json.Unmarshal(b, s)
	if err != nil {
		return datastore.ErrDecoding
	}
	return nil
}

// Load implements datastore.LoadSaver.Load.
func (s *Subscription) Load(ps []datastore.Property) error {
	for _, p := range ps {
		if p.Name != "Data" {
			continue
		}
		b, ok := p.Value.([]byte)
		if !ok {
			return errors.New("unexpected type for Subscription.Data")
		}
		return s.Decode(b)
	}
	return datastore.ErrDecoding
}

// Save implements datastore.LoadSaver.Save. Name and GUG name are
// indexed so subscriptions can be queried by downloader.
func (s *Subscription) Save() ([]datastore.Property, error) {
	return []datastore.Property{
		{Name: "Name", Value: s.Name},
		{Name: "GUGName", Value: s.GUG.Name},
		{Name: "Data", Value: s.Encode(), NoIndex: true},
	}, nil
}

// Copy copies a Subscription to dst, or returns a copy of the Subscription when dst is nil.
func (s *Subscription) Copy(dst datastore.Entity) (datastore.Entity, error) {
	var s2 *Subscription
	if dst == nil {
		s2 = new(Subscription)
	} else {
		var ok bool
		s2, ok = dst.(*Subscription)
		if !ok {
			return nil, datastore.ErrWrongType
		}
	}
	*s2 = *s.Clone()
	return s2, nil
}

// GetCache returns nil, indicating no caching.
func (s *Subscription) GetCache() datastore.Cache {
	return nil
}

// PutSubscription creates or replaces a subscription, keyed by name.
func PutSubscription(ctx context.Context, store datastore.Store, s *Subscription) error {
	if s.Name == "" {
		return errors.New("subscription has no name")
	}
	key := store.NameKey(typeSubscription, s.Name)
	_, err := store.Put(ctx, key, s)
	return err
}

// GetSubscription gets a subscription by name.
func GetSubscription(ctx context.Context, store datastore.Store, name string) (*Subscription, error) {
	key := store.NameKey(typeSubscription, name)
	s := new(Subscription)
	err := store.Get(ctx, key, s)
	if err != nil {
		return nil, fmt.Errorf("could not get subscription %s: %w", name, err)
	}
	return s, nil
}

// GetAllSubscriptions returns every subscription.
func GetAllSubscriptions(ctx context.Context, store datastore.Store) ([]*Subscription, error) {
	q := store.NewQuery(typeSubscription, false)
	var subs []Subscription
	_, err := store.GetAll(ctx, q, &subs)
	if err != nil {
		return nil, fmt.Errorf("could not get subscriptions: %w", err)
	}
	res := make([]*Subscription, len(subs))
	for i := range subs {
		res[i] = &subs[i]
	}
	return res, nil
}

// DeleteSubscriptions deletes the named subscriptions.
func DeleteSubscriptions(ctx context.Context, store datastore.Store, names []string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]*datastore.Key, len(names))
	for i, n := range names {
		keys[i] = store.NameKey(typeSubscription, n)
	}
	return store.DeleteMulti(ctx, keys)
}
