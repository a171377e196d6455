/*
DESCRIPTION
  File seed caches and gallery seed logs, the import history held by
  a query log container.

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

// SeedStatus is the import status of a file or gallery seed.
type SeedStatus int

// Seed statuses.
const (
	SeedUnknown       SeedStatus = iota // Not yet attempted.
	SeedSuccessful                      // Imported and new.
	SeedAlreadyInDB                     // Imported previously.
	SeedDeleted                         // Previously deleted, not re-imported.
	SeedFailed                          // An error occurred.
	SeedVetoed                          // Rejected by import options.
	SeedSkipped                         // Ignored, e.g., beyond a file limit.
)

var seedStatusNames = map[SeedStatus]string{
	SeedUnknown:     "unknown",
	SeedSuccessful:  "successful",
	SeedAlreadyInDB: "already in db",
	SeedDeleted:     "deleted",
	SeedFailed:      "failed",
	SeedVetoed:      "vetoed",
	SeedSkipped:     "skipped",
}

func (s SeedStatus) String() string {
	if n, ok := seedStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Done returns true if no more work is needed for the seed.
func (s SeedStatus) Done() bool {
	return s != SeedUnknown
}

// FileSeed is one file URL found by a query.
type FileSeed struct {
	URL        string
	Status     SeedStatus
	SourceTime time.Time // Time the source says the file was posted, if known.
	Created    time.Time
	Modified   time.Time
	Note       string
}

// time returns the best available time for velocity calculations.
func (s *FileSeed) time() time.Time {
	if !s.SourceTime.IsZero() {
		return s.SourceTime
	}
	return s.Created
}

// FileSeedCache is a URL-deduplicated import queue.
type FileSeedCache struct {
	Seeds []FileSeed
}

// Len returns the number of seeds.
func (c *FileSeedCache) Len() int {
	return len(c.Seeds)
}

// HasURL returns true if the cache already holds the URL.
func (c *FileSeedCache) HasURL(url string) bool {
	for i := range c.Seeds {
		if c.Seeds[i].URL == url {
			return true
		}
	}
	return false
}

// AddSeeds appends seeds whose URLs are not yet present and returns
// the number added.
func (c *FileSeedCache) AddSeeds(seeds ...FileSeed) int {
	seen := make(map[string]bool, len(c.Seeds))
	for i := range c.Seeds {
		seen[c.Seeds[i].URL] = true
	}
	var n int
	for _, s := range seeds {
		if s.URL == "" || seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		c.Seeds = append(c.Seeds, s)
		n++
	}
	return n
}

// Absorb adds every seed of other that this cache does not already
// hold, returning the number added.
func (c *FileSeedCache) Absorb(other *FileSeedCache) int {
	if other == nil {
		return 0
	}
	return c.AddSeeds(other.Seeds...)
}

// NumNewFilesSince returns the number of seeds posted at or after t.
func (c *FileSeedCache) NumNewFilesSince(t time.Time) int {
	var n int
	for i := range c.Seeds {
		st := c.Seeds[i].time()
		if st.IsZero() {
			continue
		}
		if !st.Before(t) {
			n++
		}
	}
	return n
}

// EarliestSourceTime returns the time of the oldest seed.
func (c *FileSeedCache) EarliestSourceTime() (time.Time, bool) {
	var t time.Time
	for i := range c.Seeds {
		st := c.Seeds[i].time()
		if st.IsZero() {
			continue
		}
		if t.IsZero() || st.Before(t) {
			t = st
		}
	}
	return t, !t.IsZero()
}

// LatestSourceTime returns the time of the newest seed.
func (c *FileSeedCache) LatestSourceTime() (time.Time, bool) {
	var t time.Time
	for i := range c.Seeds {
		st := c.Seeds[i].time()
		if st.After(t) {
			t = st
		}
	}
	return t, !t.IsZero()
}

// retry resets seeds with any of the given statuses so they are tried
// again, returning the number reset.
func (c *FileSeedCache) retry(now time.Time, statuses ...SeedStatus) int {
	var n int
	for i := range c.Seeds {
		for _, st := range statuses {
			if c.Seeds[i].Status == st {
				c.Seeds[i].Status = SeedUnknown
				c.Seeds[i].Note = ""
				c.Seeds[i].Modified = now
				n++
				break
			}
		}
	}
	return n
}

// RetryFailed queues failed seeds for another attempt.
func (c *FileSeedCache) RetryFailed(now time.Time) int {
	return c.retry(now, SeedFailed)
}

// RetryIgnored queues vetoed and skipped seeds for another attempt.
func (c *FileSeedCache) RetryIgnored(now time.Time) int {
	return c.retry(now, SeedVetoed, SeedSkipped)
}

// StatusCounts returns the number of seeds in each status.
func (c *FileSeedCache) StatusCounts() map[SeedStatus]int {
	m := make(map[SeedStatus]int)
	for i := range c.Seeds {
		m[c.Seeds[i].Status]++
	}
	return m
}

// Summary returns a short human description, e.g., "12/40 done, 2 failed".
func (c *FileSeedCache) Summary() string {
	if len(c.Seeds) == 0 {
		return "no files"
	}
	counts := c.StatusCounts()
	done := len(c.Seeds) - counts[SeedUnknown]
	parts := []string{fmt.Sprintf("%d/%d done", done, len(c.Seeds))}
	for _, st := range []SeedStatus{SeedFailed, SeedVetoed, SeedSkipped, SeedDeleted} {
		if counts[st] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[st], st))
		}
	}
	return strings.Join(parts, ", ")
}

// GallerySeed is one page visited while crawling a query's results.
type GallerySeed struct {
	URL      string
	Status   SeedStatus
	Created  time.Time
	Modified time.Time
	Note     string
}

// GallerySeedLog is the crawl log of gallery pages.
type GallerySeedLog struct {
	Seeds []GallerySeed
}

// Len returns the number of gallery seeds.
func (l *GallerySeedLog) Len() int {
	return len(l.Seeds)
}

// HasURL returns true if the log already holds the URL.
func (l *GallerySeedLog) HasURL(url string) bool {
	for i := range l.Seeds {
		if l.Seeds[i].URL == url {
			return true
		}
	}
	return false
}

// AddSeeds appends gallery seeds whose URLs are not yet present.
func (l *GallerySeedLog) AddSeeds(seeds ...GallerySeed) int {
	var n int
	for _, s := range seeds {
		if s.URL == "" || l.HasURL(s.URL) {
			continue
		}
		l.Seeds = append(l.Seeds, s)
		n++
	}
	return n
}

// Absorb adds every gallery seed of other not already logged.
func (l *GallerySeedLog) Absorb(other *GallerySeedLog) int {
	if other == nil {
		return 0
	}
	return l.AddSeeds(other.Seeds...)
}
