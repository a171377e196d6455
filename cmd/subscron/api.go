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

package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ausocean/openfish/datastore"

	"github.com/ausocean/subsync/gauth"
	"github.com/ausocean/subsync/model"
)

// querySummary is the API view of a query.
type querySummary struct {
	Query    string `json:"query"`
	State    string `json:"state"`
	Status   string `json:"status"`
	Files    string `json:"files"`
	Velocity string `json:"velocity"`
}

// subscriptionSummary is the API view of a subscription.
type subscriptionSummary struct {
	Name        string         `json:"name"`
	GUG         string         `json:"gug"`
	Paused      bool           `json:"paused"`
	NoWorkUntil *time.Time     `json:"no_work_until,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Queries     []querySummary `json:"queries"`
}

// scheduleSummary is the API view of the scheduler.
type scheduleSummary struct {
	Next      *time.Time `json:"next,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	Checked   int        `json:"checked"`
	Throttled int        `json:"throttled"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	NewFiles  int        `json:"new_files"`
	Error     string     `json:"error,omitempty"`
}

// newApp returns the fiber app serving the API.
func (svc *service) newApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: svc.errorHandler, UnescapePath: true})

	// Recover from panics.
	app.Use(recover.New())

	// Log requests if applicable.
	app.Use(func(c *fiber.Ctx) error {
		if svc.debug || svc.standalone {
			svc.log.Debug("request", "method", c.Method(), "path", c.Path())
		}
		return c.Next()
	})

	v1 := app.Group("/api/v1")
	v1.Get("/version", svc.versionHandler)
	v1.Get("/subscriptions", svc.listHandler)
	v1.Get("/schedule", svc.scheduleHandler)

	// Changes require a signed token.
	v1.Post("/subscriptions/:name/checknow", svc.requireToken, svc.checkNowHandler)
	v1.Post("/subscriptions/:name/pause", svc.requireToken, svc.pauseHandler)
	v1.Post("/run", svc.requireToken, svc.runHandler)
	return app
}

// versionHandler writes the service name and version.
func (svc *service) versionHandler(c *fiber.Ctx) error {
	return c.SendString(projectID + " " + version)
}

// listHandler writes a summary of every subscription.
func (svc *service) listHandler(c *fiber.Ctx) error {
	subs, err := model.GetAllSubscriptions(c.UserContext(), svc.store)
	if err != nil {
		return svc.logAndReturnError(c, http.StatusInternalServerError, "could not get subscriptions", err)
	}
	now := time.Now()
	res := make([]subscriptionSummary, 0, len(subs))
	for _, sub := range subs {
		res = append(res, summarize(sub, now))
	}
	return c.JSON(res)
}

func summarize(sub *model.Subscription, now time.Time) subscriptionSummary {
	s := subscriptionSummary{
		Name:    sub.Name,
		GUG:     sub.GUG.Name,
		Paused:  sub.Paused,
		Queries: make([]querySummary, 0, len(sub.QueryHeaders)),
	}
	if now.Before(sub.NoWorkUntil) {
		t := sub.NoWorkUntil
		s.NoWorkUntil, s.Reason = &t, sub.NoWorkUntilReason
	}
	for _, q := range sub.QueryHeaders {
		s.Queries = append(s.Queries, querySummary{
			Query:    q.QueryText,
			State:    string(q.State()),
			Status:   q.Status(now),
			Files:    q.FileStatus,
			Velocity: q.Velocity,
		})
	}
	return s
}

// scheduleHandler writes the time of the next pass and the outcome of the last.
func (svc *service) scheduleHandler(c *fiber.Ctx) error {
	var s scheduleSummary
	if next := svc.sched.Next(); !next.IsZero() {
		s.Next = &next
	}
	last, res, err := svc.sched.Last()
	if !last.IsZero() {
		s.LastRun = &last
	}
	s.Checked, s.Throttled, s.Skipped, s.Failed, s.NewFiles = res.Checked, res.Throttled, res.Skipped, res.Failed, res.NewFiles
	if err != nil {
		s.Error = err.Error()
	}
	return c.JSON(s)
}

// checkNowHandler asks for the given queries of a subscription, or all
// of them, to be checked on the next pass. Queries are given as
// repeated "query" parameters.
func (svc *service) checkNowHandler(c *fiber.Ctx) error {
	var texts []string
	for _, v := range c.Context().QueryArgs().PeekMulti("query") {
		texts = append(texts, string(v))
	}
	return svc.editSubscription(c, func(sub *model.Subscription) error {
		for _, text := range texts {
			if _, ok := sub.Header(text); !ok {
				return fiber.NewError(http.StatusBadRequest, "no query "+text)
			}
		}
		sub.CheckNow(texts...)
		return nil
	})
}

// pauseHandler toggles the paused flag of a subscription.
func (svc *service) pauseHandler(c *fiber.Ctx) error {
	return svc.editSubscription(c, func(sub *model.Subscription) error {
		sub.PausePlay()
		return nil
	})
}

// editSubscription applies edit to the named subscription while no
// pass is running and writes its summary.
func (svc *service) editSubscription(c *fiber.Ctx, edit func(*model.Subscription) error) error {
	name := c.Params("name")
	var sub *model.Subscription
	err := svc.sched.Exclusive(func() error {
		var err error
		sub, err = model.GetSubscription(c.UserContext(), svc.store, name)
		if err != nil {
			return err
		}
		err = edit(sub)
		if err != nil {
			return err
		}
		return model.PutSubscription(c.UserContext(), svc.store, sub)
	})
	var fe *fiber.Error
	switch {
	case errors.Is(err, datastore.ErrNoSuchEntity):
		return svc.logAndReturnError(c, http.StatusNotFound, "no subscription "+name, err)
	case errors.As(err, &fe):
		return svc.logAndReturnError(c, fe.Code, fe.Message, err)
	case err != nil:
		return svc.logAndReturnError(c, http.StatusInternalServerError, "could not update subscription "+name, err)
	}
	svc.log.Info("updated subscription", "subscription", name, "path", c.Path())
	return c.JSON(summarize(sub, time.Now()))
}

// runHandler runs a pass now and writes its outcome.
func (svc *service) runHandler(c *fiber.Ctx) error {
	res, err := svc.sched.Trigger(c.UserContext())
	if err != nil {
		return svc.logAndReturnError(c, http.StatusInternalServerError, "pass failed", err)
	}
	return c.JSON(scheduleSummary{
		Checked:   res.Checked,
		Throttled: res.Throttled,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		NewFiles:  res.NewFiles,
	})
}

// requireToken rejects requests without a valid bearer token.
func (svc *service) requireToken(c *fiber.Ctx) error {
	if svc.apiSecret == nil {
		return fiber.NewError(http.StatusForbidden, "API changes are disabled")
	}
	_, err := gauth.GetClaims(c.Get(fiber.HeaderAuthorization), svc.apiSecret)
	if err != nil {
		return svc.logAndReturnError(c, http.StatusUnauthorized, "invalid token", err)
	}
	return c.Next()
}

// logAndReturnError logs an error and writes it to the client.
func (svc *service) logAndReturnError(c *fiber.Ctx, code int, msg string, err error) error {
	svc.log.Warning(msg, "path", c.Path(), "status", code, "error", err)
	return c.Status(code).JSON(map[string]string{
		"message": http.StatusText(code),
		"error":   msg,
	})
}

// errorHandler writes errors returned by handlers as JSON.
func (svc *service) errorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(map[string]string{
		"message": http.StatusText(code),
		"error":   err.Error(),
	})
}
