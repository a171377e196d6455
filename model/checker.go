/*
DESCRIPTION
  Checker options, which turn a query's historical find-rate into the
  time of its next check and decide when a query has died.

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
	"errors"
	"fmt"
	"time"
)

const (
	day = 24 * time.Hour

	// minVelocityWindow stops a brand new query from reporting an
	// absurd velocity, e.g., 5 files in 2 seconds.
	minVelocityWindow = 30 * time.Second
)

var ErrInvalidCheckerOptions = errors.New("invalid checker options")

// SeedHistory is the narrow view of a query's import history that
// checker options need in order to compute a velocity.
type SeedHistory interface {
	Len() int
	NumNewFilesSince(t time.Time) int
	EarliestSourceTime() (time.Time, bool)
	LatestSourceTime() (time.Time, bool)
}

// Velocity is a number of files found over a period.
type Velocity struct {
	Files  int
	Period time.Duration
}

// PerSecond returns the velocity as files per second.
func (v Velocity) PerSecond() float64 {
	if v.Period <= 0 {
		return 0
	}
	return float64(v.Files) / v.Period.Seconds()
}

// String returns a human readable velocity, e.g., "5 files in 30 days".
func (v Velocity) String() string {
	unit := "files"
	if v.Files == 1 {
		unit = "file"
	}
	return fmt.Sprintf("%d %s in %s", v.Files, unit, FormatDuration(v.Period))
}

// CheckerOptions is the policy that converts a query's historical
// find-rate into an interval until its next check.
type CheckerOptions struct {
	IntendedFilesPerCheck int           // Files we would like each check to find.
	NeverFasterThan       time.Duration // Lower bound on the check period.
	NeverSlowerThan       time.Duration // Upper bound on the check period.
	DeathFileVelocity     Velocity      // Queries slower than this are dead.
}

// DefaultCheckerOptions returns the checker options given to new subscriptions.
func DefaultCheckerOptions() CheckerOptions {
	return CheckerOptions{
		IntendedFilesPerCheck: 4,
		NeverFasterThan:       day,
		NeverSlowerThan:       90 * day,
		DeathFileVelocity:     Velocity{Files: 1, Period: 180 * day},
	}
}

// Validate returns ErrInvalidCheckerOptions (wrapped) if the options are unusable.
func (c CheckerOptions) Validate() error {
	switch {
	case c.IntendedFilesPerCheck < 1:
		return fmt.Errorf("%w: intended files per check must be at least 1", ErrInvalidCheckerOptions)
	case c.NeverFasterThan <= 0 || c.NeverSlowerThan <= 0:
		return fmt.Errorf("%w: check periods must be positive", ErrInvalidCheckerOptions)
	case c.NeverFasterThan > c.NeverSlowerThan:
		return fmt.Errorf("%w: never faster than %v exceeds never slower than %v", ErrInvalidCheckerOptions, c.NeverFasterThan, c.NeverSlowerThan)
	case c.DeathFileVelocity.Files < 1 || c.DeathFileVelocity.Period <= 0:
		return fmt.Errorf("%w: death velocity must be at least one file over a positive period", ErrInvalidCheckerOptions)
	}
	return nil
}

// CurrentVelocity returns the number of files found within the death
// velocity window ending at lastCheck. The window is clipped to the age
// of the earliest file, so that a query that is only a day old reports
// "5 files in 1 day" rather than "5 files in 180 days".
func (c CheckerOptions) CurrentVelocity(h SeedHistory, lastCheck time.Time) Velocity {
	window := c.DeathFileVelocity.Period
	found := h.NumNewFilesSince(lastCheck.Add(-window))

	earliest, ok := h.EarliestSourceTime()
	if ok {
		age := lastCheck.Sub(earliest)
		if age < minVelocityWindow {
			age = minVelocityWindow
		}
		if age < window {
			window = age
		}
	}
	return Velocity{Files: found, Period: window}
}

// IsDead returns true if the query has fallen below the death file velocity.
// A query that has never been checked and has no history is never dead.
func (c CheckerOptions) IsDead(h SeedHistory, lastCheck time.Time) bool {
	if h.Len() == 0 && lastCheck.IsZero() {
		return false
	}
	return c.CurrentVelocity(h, lastCheck).PerSecond() < c.DeathFileVelocity.PerSecond()
}

// NextCheckTime returns the time of the next check. A zero time means
// the query should be checked as soon as possible.
func (c CheckerOptions) NextCheckTime(h SeedHistory, lastCheck time.Time) time.Time {
	if h.Len() == 0 {
		if lastCheck.IsZero() {
			return time.Time{}
		}
		return lastCheck.Add(c.NeverSlowerThan)
	}

	v := c.CurrentVelocity(h, lastCheck)
	if v.Files == 0 {
		return lastCheck.Add(c.NeverSlowerThan)
	}

	intended := c.IntendedFilesPerCheck
	if intended < 1 {
		intended = 1
	}
	ideal := time.Duration(intended) * (v.Period / time.Duration(v.Files))

	// A query that found a burst of files and then went quiet should not
	// keep being checked at the burst's rate, so the floor is at least
	// the time since the latest file.
	floor := c.NeverFasterThan
	if latest, ok := h.LatestSourceTime(); ok {
		since := lastCheck.Sub(latest)
		if since < minVelocityWindow {
			since = minVelocityWindow
		}
		if since > floor {
			floor = since
		}
	}

	period := ideal
	if period < floor {
		period = floor
	}
	if period > c.NeverSlowerThan {
		period = c.NeverSlowerThan
	}
	return lastCheck.Add(period)
}

// PrettyVelocity returns the current velocity as human readable text.
func (c CheckerOptions) PrettyVelocity(h SeedHistory, lastCheck time.Time) string {
	if h.Len() == 0 && lastCheck.IsZero() {
		return "no files yet"
	}
	return c.CurrentVelocity(h, lastCheck).String()
}

// FormatDuration formats a duration coarsely, e.g., "3 days" or "45 minutes".
func FormatDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= day:
		return plural(int64(d/day), "day")
	case d >= time.Hour:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int64(d/time.Minute), "minute")
	default:
		return plural(int64(d/time.Second), "second")
	}
}
