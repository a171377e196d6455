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
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ausocean/openfish/datastore"
	"github.com/ausocean/utils/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ausocean/subsync/model"
)

func init() {
	model.RegisterEntities()
}

// runTask runs one task and returns its output.
func runTask(t *testing.T, store datastore.Store, cfg config) (string, error) {
	t.Helper()
	if cfg.verbosity == 0 {
		cfg.verbosity = logging.Error
	}
	var out bytes.Buffer
	err := run(context.Background(), store, cfg, &out)
	return out.String(), err
}

func mustRun(t *testing.T, store datastore.Store, cfg config) string {
	t.Helper()
	out, err := runTask(t, store, cfg)
	require.NoError(t, err, "task %s: %s", cfg.task, out)
	return out
}

func storedTexts(t *testing.T, store datastore.Store, name string) []string {
	t.Helper()
	sub, err := model.GetSubscription(context.Background(), store, name)
	require.NoError(t, err)
	texts := sub.QueryTexts()
	sort.Strings(texts)
	return texts
}

func storedNames(t *testing.T, store datastore.Store) []string {
	t.Helper()
	subs, err := model.GetAllSubscriptions(context.Background(), store)
	require.NoError(t, err)
	var names []string
	for _, s := range subs {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

func TestTasks(t *testing.T) {
	store, err := datastore.NewStore(context.Background(), "file", "subsync", t.TempDir())
	require.NoError(t, err)

	mustRun(t, store, config{task: "addgug", gug: "x", gugName: "gug x", template: "https://example.com/search?q=%s"})
	_, err = runTask(t, store, config{task: "addgug", gug: "y", template: "https://example.com/search"})
	assert.ErrorIs(t, err, model.ErrNoQueryPlaceholder)

	mustRun(t, store, config{task: "add", subs: []string{"Cats"}, gug: "x", queries: []string{"tabby", "calico"}})
	mustRun(t, store, config{task: "add", subs: []string{"Dogs"}, gug: "x", queries: []string{"Tabby", "beagle"}})
	_, err = runTask(t, store, config{task: "add", subs: []string{"Cats"}, gug: "x"})
	assert.Error(t, err, "name is taken")
	assert.Equal(t, []string{"Cats", "Dogs"}, storedNames(t, store))

	out := mustRun(t, store, config{task: "list"})
	assert.Contains(t, out, "Cats [gug x]")
	assert.Contains(t, out, "  calico: ")

	out = mustRun(t, store, config{task: "dedupe", master: "Cats", caseMode: "caseless", yes: true})
	assert.Contains(t, out, "removing 1 queries")
	assert.Equal(t, []string{"calico", "tabby"}, storedTexts(t, store, "Cats"))
	assert.Equal(t, []string{"beagle"}, storedTexts(t, store, "Dogs"))

	_, err = runTask(t, store, config{task: "dedupe", yes: true})
	assert.ErrorContains(t, err, "not possible")

	out = mustRun(t, store, config{task: "export", subs: []string{"Cats"}, kind: "texts", output: "-"})
	assert.Equal(t, "tabby\ncalico\n", out)

	path := filepath.Join(t.TempDir(), "cats.json")
	mustRun(t, store, config{task: "export", subs: []string{"Cats"}, kind: "envelope", output: path})
	out = mustRun(t, store, config{task: "import", input: path, yes: true})
	assert.Contains(t, out, "imported Cats (1) with 2 queries")
	assert.Equal(t, []string{"calico", "tabby"}, storedTexts(t, store, "Cats (1)"))

	out = mustRun(t, store, config{task: "merge", subs: []string{"Cats", "Dogs"}, primary: "Dogs", renames: map[string]string{"Dogs": "Pets"}})
	assert.Contains(t, out, "merged Cats")
	assert.Equal(t, []string{"Cats (1)", "Pets"}, storedNames(t, store))
	assert.Equal(t, []string{"beagle", "calico", "tabby"}, storedTexts(t, store, "Pets"))

	out = mustRun(t, store, config{task: "separate", subs: []string{"Pets"}, mode: "whole"})
	assert.Contains(t, out, "created ")
	assert.Len(t, storedNames(t, store), 4)

	out = mustRun(t, store, config{task: "delete", subs: []string{"Cats (1)"}, dryRun: true})
	assert.Contains(t, out, "dry run")
	assert.Contains(t, storedNames(t, store), "Cats (1)")

	mustRun(t, store, config{task: "delete", subs: []string{"Cats (1)"}})
	assert.NotContains(t, storedNames(t, store), "Cats (1)")

	_, err = runTask(t, store, config{task: "reset"})
	assert.ErrorContains(t, err, "requires -sub")
	_, err = runTask(t, store, config{task: "bogus"})
	assert.ErrorContains(t, err, "invalid task")
}

func TestParseRenames(t *testing.T) {
	tests := []struct {
		in      string
		want    map[string]string
		wantErr bool
	}{
		{in: "", want: map[string]string{}},
		{in: "Cats=Pets", want: map[string]string{"Cats": "Pets"}},
		{in: "Cats=Pets, Dogs=Hounds", want: map[string]string{"Cats": "Pets", "Dogs": "Hounds"}},
		{in: "Cats", wantErr: true},
		{in: "=Pets", wantErr: true},
	}
	for _, test := range tests {
		got, err := parseRenames(test.in)
		if test.wantErr {
			assert.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, got, test.in)
	}
}
