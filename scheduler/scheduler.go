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
  in gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	cron "github.com/robfig/cron/v3"
)

// LocationID is the default schedule location, consistent with IANA
// Time Zone database convention.
const LocationID = "Australia/Adelaide"

// DefaultSpec runs a pass every five minutes.
const DefaultSpec = "*/5 * * * *"

// Scheduler runs passes of a Runner on a cron schedule. Passes never
// overlap, whether scheduled or triggered.
type Scheduler struct {
	cron    *cron.Cron
	runner  *Runner
	log     logging.Logger
	timeout time.Duration
	id      cron.EntryID

	mu      sync.Mutex // Held for the duration of a pass.
	lastMu  sync.Mutex
	lastRun time.Time
	last    PassResult
	lastErr error
}

// NewScheduler returns a Scheduler running r according to the cron spec
// in loc. A nil loc uses LocationID. Each scheduled pass is cancelled
// after timeout, if positive.
func NewScheduler(r *Runner, spec string, loc *time.Location, timeout time.Duration, log logging.Logger) (*Scheduler, error) {
	if r == nil {
		return nil, errors.New("no runner")
	}
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(LocationID)
		if err != nil {
			return nil, err
		}
	}
	s := &Scheduler{runner: r, log: log, timeout: timeout}
	cl := cronLogger{log}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id, err := s.cron.AddFunc(spec, s.scheduled)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	s.id = id
	return s, nil
}

// Start starts the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule, waiting for a running pass to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the time of the next scheduled pass, or the zero time
// if the scheduler is not running.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.id).Next
}

// Last returns the start time and outcome of the last pass.
func (s *Scheduler) Last() (time.Time, PassResult, error) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastRun, s.last, s.lastErr
}

// Trigger runs a pass now, waiting for any pass in progress first.
func (s *Scheduler) Trigger(ctx context.Context) (PassResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.runner.RunPass(ctx)
	s.lastMu.Lock()
	s.lastRun, s.last, s.lastErr = start, res, err
	s.lastMu.Unlock()
	return res, err
}

// Exclusive calls fn while no pass is running, so that edits to stored
// subscriptions are not overwritten by a pass.
func (s *Scheduler) Exclusive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Scheduler) scheduled() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	_, err := s.Trigger(ctx)
	if err != nil && s.log != nil {
		s.log.Error("scheduled pass failed", "error", err)
	}
}

// cronLogger adapts a logging.Logger to cron.Logger.
type cronLogger struct {
	log logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.log != nil {
		l.log.Debug("cron: "+msg, keysAndValues...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.log != nil {
		l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
	}
}
