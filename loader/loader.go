/*
DESCRIPTION
  Package loader fetches the query log containers an operation needs
  before it runs. Each request computes exactly the containers not yet
  cached and fetches them in one batch, returning a Task to wait on.

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

// Package loader provides batched, asynchronous loading of query log containers.
package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/ausocean/openfish/datastore"
	"github.com/ausocean/utils/logging"
	"golang.org/x/sync/errgroup"

	"github.com/ausocean/subsync/model"
)

const defaultConcurrency = 8

// ContainerReader reads one container. It returns an error wrapping
// model.ErrDataMissing if the container does not exist.
type ContainerReader interface {
	ReadContainer(ctx context.Context, name string) (*model.QueryLogContainer, error)
}

// StoreReader reads containers from a datastore.
type StoreReader struct {
	Store datastore.Store
}

// ReadContainer implements ContainerReader.
func (r StoreReader) ReadContainer(ctx context.Context, name string) (*model.QueryLogContainer, error) {
	return model.GetQueryLogContainer(ctx, r.Store, name)
}

// Option is a functional option for a Loader.
type Option func(*Loader) error

// WithConcurrency limits the number of containers read at once.
func WithConcurrency(n int) Option {
	return func(l *Loader) error {
		if n < 1 {
			return fmt.Errorf("invalid concurrency %d", n)
		}
		l.limit = n
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(l *Loader) error {
		l.log = log
		return nil
	}
}

// Loader fills a Cache from a ContainerReader.
type Loader struct {
	reader ContainerReader
	cache  *Cache
	limit  int
	log    logging.Logger
}

// New returns a Loader that fills cache from r.
func New(r ContainerReader, cache *Cache, options ...Option) (*Loader, error) {
	l := &Loader{reader: r, cache: cache, limit: defaultConcurrency}
	for i, opt := range options {
		err := opt(l)
		if err != nil {
			return nil, fmt.Errorf("could not apply option %d: %w", i, err)
		}
	}
	return l, nil
}

// Cache returns the loader's cache.
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Result reports the outcome of a completed Task.
type Result struct {
	Loaded  []string // Names fetched by this task.
	Missing []string // Names that do not exist in the store.
}

// Task is a pending hydration.
type Task struct {
	done chan struct{}
	res  Result
	err  error
}

// Done returns a channel closed when the task completes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task completes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, t.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func completed(res Result, err error) *Task {
	t := &Task{done: make(chan struct{}), res: res, err: err}
	close(t.done)
	return t
}

// Hydrate loads the containers of headers that are not yet cached.
// Missing containers are tolerated and reported in the result. Any
// other error fails the whole batch, and nothing from it is cached. If
// nothing needs loading the returned task is already complete.
func (l *Loader) Hydrate(ctx context.Context, headers []*model.QueryHeader) *Task {
	return l.hydrate(ctx, headers, false)
}

// HydrateStrict is like Hydrate but treats a missing container as a
// failure of the batch.
func (l *Loader) HydrateStrict(ctx context.Context, headers []*model.QueryHeader) *Task {
	return l.hydrate(ctx, headers, true)
}

func (l *Loader) hydrate(ctx context.Context, headers []*model.QueryHeader, strict bool) *Task {
	names := make([]string, len(headers))
	for i, q := range headers {
		names[i] = q.ContainerName
	}
	missing := l.cache.Missing(names)
	if len(missing) == 0 {
		return completed(Result{}, nil)
	}

	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.res, t.err = l.fetch(ctx, missing, strict)
	}()
	return t
}

// fetch reads names as one batch and caches them if all succeeded.
func (l *Loader) fetch(ctx context.Context, names []string, strict bool) (Result, error) {
	l.debug("loading containers", "count", len(names))
	loaded := make([]*model.QueryLogContainer, len(names))
	absent := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.limit)
	for i, name := range names {
		g.Go(func() error {
			c, err := l.reader.ReadContainer(gctx, name)
			switch {
			case errors.Is(err, model.ErrDataMissing) && !strict:
				absent[i] = true
				return nil
			case err != nil:
				return fmt.Errorf("could not load container %s: %w", name, err)
			}
			loaded[i] = c
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		l.warning("container batch failed", "error", err)
		return Result{}, err
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	var res Result
	for i, name := range names {
		if absent[i] {
			res.Missing = append(res.Missing, name)
			continue
		}
		if loaded[i].Name == "" {
			loaded[i].Name = name
		}
		l.cache.Set(loaded[i])
		res.Loaded = append(res.Loaded, name)
	}
	if len(res.Missing) > 0 {
		l.warning("containers missing", "names", res.Missing)
	}
	return res, nil
}

// Do hydrates headers, then runs fn with the result. fn does not run
// if the hydration fails or ctx is done first.
func Do(ctx context.Context, l *Loader, headers []*model.QueryHeader, fn func(Result) error) error {
	res, err := l.Hydrate(ctx, headers).Wait(ctx)
	if err != nil {
		return err
	}
	return fn(res)
}

func (l *Loader) debug(msg string, args ...interface{}) {
	if l.log != nil {
		l.log.Debug(msg, args...)
	}
}

func (l *Loader) warning(msg string, args ...interface{}) {
	if l.log != nil {
		l.log.Warning(msg, args...)
	}
}
