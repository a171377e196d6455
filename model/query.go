/*
DESCRIPTION
  Query headers: one search string of a subscription together with its
  check-scheduling and health state.

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

package model

import (
	"fmt"
	"strings"
	"time"
)

// CheckerStatus is the health of a query as last determined by a check.
type CheckerStatus int

const (
	CheckerOK         CheckerStatus = iota // Working normally.
	CheckerDead                            // Fell below the death file velocity.
	CheckerFourOhFour                      // The remote gallery no longer exists.
)

func (s CheckerStatus) String() string {
	switch s {
	case CheckerOK:
		return "OK"
	case CheckerDead:
		return "DEAD"
	case CheckerFourOhFour:
		return "FOUR_OH_FOUR"
	default:
		return fmt.Sprintf("CheckerStatus(%d)", int(s))
	}
}

// QueryState is the scheduling state of a query header.
type QueryState string

// Query states. Paused is orthogonal to these.
const (
	StateUnsynced   QueryState = "UNSYNCED"
	StateOK         QueryState = "OK"
	StateChecking   QueryState = "CHECKING"
	StateDead       QueryState = "DEAD"
	StateFourOhFour QueryState = "FOUR_OH_FOUR"
)

// StatusRecalculate is the status shown for a header that must be
// re-synced against its container before its next check is known.
const StatusRecalculate = "will recalculate on next run"

// TagImportOptions holds tags applied to every file a query imports.
type TagImportOptions struct {
	AdditionalTags []string
}

// Copy returns a deep copy.
func (o TagImportOptions) Copy() TagImportOptions {
	if o.AdditionalTags == nil {
		return o
	}
	return TagImportOptions{AdditionalTags: append([]string(nil), o.AdditionalTags...)}
}

// QueryHeader is one query of a subscription. Its import history is
// held separately in the query log container it names.
type QueryHeader struct {
	QueryText        string
	DisplayName      string // Optional, defaults to QueryText.
	Paused           bool
	CheckNowPending  bool
	CheckerStatus    CheckerStatus
	LastCheckTime    time.Time
	NextCheckTime    time.Time
	ContainerName    string
	TagImportOptions TagImportOptions
	Synced           bool   // False until synced to its container.
	FileStatus       string // Cached file seed cache summary.
	Velocity         string // Cached human readable velocity.
}

// NewQueryHeader returns a header for text with a fresh container name.
// It starts unsynced; its container is new and empty.
func NewQueryHeader(text string) *QueryHeader {
	return &QueryHeader{
		QueryText:     text,
		ContainerName: NewContainerName(),
		FileStatus:    "no files",
	}
}

// Name returns the display name, or the query text if it has none.
func (q *QueryHeader) Name() string {
	if q.DisplayName != "" {
		return q.DisplayName
	}
	return q.QueryText
}

// CheckNow requests a check on the next scheduler pass. A dead or
// missing query is given another chance.
func (q *QueryHeader) CheckNow() {
	q.CheckNowPending = true
	q.CheckerStatus = CheckerOK
}

// PausePlay toggles the paused flag.
func (q *QueryHeader) PausePlay() {
	q.Paused = !q.Paused
}

// State returns the scheduling state of the header.
func (q *QueryHeader) State() QueryState {
	switch {
	case !q.Synced:
		return StateUnsynced
	case q.CheckerStatus == CheckerDead:
		return StateDead
	case q.CheckerStatus == CheckerFourOhFour:
		return StateFourOhFour
	case q.CheckNowPending:
		return StateChecking
	default:
		return StateOK
	}
}

// Invalidate marks the header as needing a re-sync, typically after
// its checker options changed. The next check time is not recomputed
// here since that needs the container, which may not be loaded.
func (q *QueryHeader) Invalidate() {
	q.Synced = false
}

// SyncToContainer recomputes the header's status and next check time
// from its container.
func (q *QueryHeader) SyncToContainer(opts CheckerOptions, c *QueryLogContainer, now time.Time) {
	c.init()
	q.UpdateFileStatus(c)
	if q.CheckerStatus != CheckerFourOhFour && !q.LastCheckTime.IsZero() {
		if opts.IsDead(c.FileSeedCache, q.LastCheckTime) {
			q.CheckerStatus = CheckerDead
		} else {
			q.CheckerStatus = CheckerOK
		}
	}
	q.NextCheckTime = opts.NextCheckTime(c.FileSeedCache, q.LastCheckTime)
	q.Velocity = opts.PrettyVelocity(c.FileSeedCache, lastOr(q.LastCheckTime, now))
	q.Synced = true
}

func lastOr(t, alt time.Time) time.Time {
	if t.IsZero() {
		return alt
	}
	return t
}

// UpdateFileStatus refreshes the cached file status from the container.
func (q *QueryHeader) UpdateFileStatus(c *QueryLogContainer) {
	c.init()
	q.FileStatus = c.FileSeedCache.Summary()
}

// Reset clears the container's history and returns the header to a
// never-checked state.
func (q *QueryHeader) Reset(c *QueryLogContainer) {
	c.FileSeedCache = &FileSeedCache{}
	c.GallerySeedLog = &GallerySeedLog{}
	q.LastCheckTime = time.Time{}
	q.NextCheckTime = time.Time{}
	q.CheckerStatus = CheckerOK
	q.CheckNowPending = false
	q.Paused = false
	q.Velocity = ""
	q.Synced = true
	q.UpdateFileStatus(c)
}

// RetryFailed queues the container's failed files again.
func (q *QueryHeader) RetryFailed(now time.Time, c *QueryLogContainer) int {
	c.init()
	n := c.FileSeedCache.RetryFailed(now)
	q.UpdateFileStatus(c)
	return n
}

// RetryIgnored queues the container's vetoed and skipped files again.
func (q *QueryHeader) RetryIgnored(now time.Time, c *QueryLogContainer) int {
	c.init()
	n := c.FileSeedCache.RetryIgnored(now)
	q.UpdateFileStatus(c)
	return n
}

// RegisterCheck records a completed check with the given outcome. An
// OK outcome becomes DEAD if the query has fallen below the death velocity.
func (q *QueryHeader) RegisterCheck(now time.Time, opts CheckerOptions, c *QueryLogContainer, status CheckerStatus) {
	c.init()
	q.LastCheckTime = now
	q.CheckNowPending = false
	q.CheckerStatus = status
	if status == CheckerOK && opts.IsDead(c.FileSeedCache, now) {
		q.CheckerStatus = CheckerDead
	}
	q.NextCheckTime = opts.NextCheckTime(c.FileSeedCache, now)
	q.Velocity = opts.PrettyVelocity(c.FileSeedCache, now)
	q.Synced = true
	q.UpdateFileStatus(c)
}

// IsExpectingToWorkInFuture returns true if the query will be checked
// again without user intervention.
func (q *QueryHeader) IsExpectingToWorkInFuture() bool {
	return !q.Paused && q.CheckerStatus == CheckerOK
}

// IsDue returns true if a synced, unpaused, healthy query should be
// checked at now.
func (q *QueryHeader) IsDue(now time.Time) bool {
	if q.Paused || !q.Synced || q.CheckerStatus != CheckerOK {
		return false
	}
	return q.CheckNowPending || q.NextCheckTime.IsZero() || !now.Before(q.NextCheckTime)
}

// Status returns a one line human readable status.
func (q *QueryHeader) Status(now time.Time) string {
	var s string
	switch q.State() {
	case StateUnsynced:
		s = StatusRecalculate
	case StateDead:
		s = "dead, so not checking"
	case StateFourOhFour:
		s = "gallery not found, so not checking"
	case StateChecking:
		s = "checking now"
	default:
		switch {
		case q.NextCheckTime.IsZero() || !now.Before(q.NextCheckTime):
			s = "due for check"
		default:
			s = "next check in " + FormatDuration(q.NextCheckTime.Sub(now))
		}
	}
	if q.Paused {
		s = "paused, " + s
	}
	return s
}

// Copy returns a deep copy of the header, keeping its container name.
func (q *QueryHeader) Copy() *QueryHeader {
	q2 := *q
	q2.TagImportOptions = q.TagImportOptions.Copy()
	return &q2
}

// textKey returns the key under which text is compared.
func textKey(text string, caseless bool) string {
	if caseless {
		return strings.ToLower(text)
	}
	return text
}
