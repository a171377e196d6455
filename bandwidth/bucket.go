/*
DESCRIPTION
  bucket.go provides a token bucket whose state is kept in the
  datastore as a variable.

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
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Never is the wait reported by a bucket that does not refill.
const Never = time.Duration(math.MaxInt64)

// Rule is the capacity and refill rate of a bucket.
type Rule struct {
	MaxTokens  float64
	RefillRate float64 // Tokens per hour.
}

// Bucket is a token bucket. One token is one request. Tokens may go
// negative, since usage is recorded after a request has been made.
type Bucket struct {
	ID             string
	Tokens         float64
	MaxTokens      float64
	RefillRate     float64 // Tokens per hour.
	LastRefillTime time.Time
}

// NewBucket returns a full bucket.
func NewBucket(id string, r Rule, now time.Time) *Bucket {
	return &Bucket{ID: id, Tokens: r.MaxTokens, MaxTokens: r.MaxTokens, RefillRate: r.RefillRate, LastRefillTime: now}
}

// tokensAt returns the number of tokens the bucket holds at now.
func (b *Bucket) tokensAt(now time.Time) float64 {
	elapsed := now.Sub(b.LastRefillTime)
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(b.MaxTokens, b.Tokens+elapsed.Hours()*b.RefillRate)
}

// refill brings the bucket up to date.
func (b *Bucket) refill(now time.Time) {
	b.Tokens = b.tokensAt(now)
	b.LastRefillTime = now
}

// Wait returns how long until the bucket holds a whole token, rounded
// up to the second.
func (b *Bucket) Wait(now time.Time) time.Duration {
	tokens := b.tokensAt(now)
	if tokens >= 1-epsilon {
		return 0
	}
	if b.RefillRate <= 0 {
		return Never
	}
	secs := (1 - tokens) / b.RefillRate * 3600
	return time.Duration(math.Ceil(secs-epsilon)) * time.Second
}

// epsilon absorbs float error in refill arithmetic.
const epsilon = 1e-9

// Consume records one request.
func (b *Bucket) Consume(now time.Time) {
	b.refill(now)
	b.Tokens--
}

// encode returns the bucket as a variable value.
func (b *Bucket) encode() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("could not marshal token bucket: %w", err)
	}
	return string(data), nil
}

// decodeBucket parses a variable value.
func decodeBucket(s string) (*Bucket, error) {
	var b Bucket
	err := json.Unmarshal([]byte(s), &b)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal token bucket: %w", err)
	}
	return &b, nil
}
