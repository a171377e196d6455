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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ausocean/openfish/datastore"
	"github.com/ausocean/utils/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ausocean/subsync/gauth"
	"github.com/ausocean/subsync/model"
	"github.com/ausocean/subsync/scheduler"
)

var testSecret = []byte("api secret")

// stubDownloader finds one new file per check.
type stubDownloader struct {
	checks int
}

func (d *stubDownloader) Check(ctx context.Context, r scheduler.Request) ([]model.FileSeed, error) {
	d.checks++
	return []model.FileSeed{{URL: r.URL + "&file=1", SourceTime: time.Now().Add(-time.Hour)}}, nil
}

func newTestService(t *testing.T) (*service, *stubDownloader) {
	t.Helper()
	ctx := context.Background()
	model.RegisterEntities()
	store, err := datastore.NewStore(ctx, "file", projectID, t.TempDir())
	require.NoError(t, err)

	gug := &model.GUG{Key: "x", Name: "gug x", URLTemplate: "https://example.com/search?q=%s"}
	require.NoError(t, model.PutGUG(ctx, store, gug))
	sub := model.NewSubscription("Sea Cats", gug.KeyAndName())
	for _, text := range []string{"tabby", "calico"} {
		q := model.NewQueryHeader(text)
		require.NoError(t, sub.AddQueryHeaders(q))
		require.NoError(t, model.PutQueryLogContainer(ctx, store, model.NewQueryLogContainer(q.ContainerName)))
	}
	require.NoError(t, model.PutSubscription(ctx, store, sub))

	svc := &service{
		store:     store,
		spec:      "@every 1h",
		timeout:   time.Minute,
		apiSecret: testSecret,
		log:       (*logging.TestLogger)(t),
	}
	dl := &stubDownloader{}
	require.NoError(t, svc.setupScheduler(dl))
	return svc, dl
}

func token(t *testing.T) string {
	t.Helper()
	tok, err := gauth.IssueToken("tester", "api", time.Minute, testSecret)
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(t *testing.T, svc *service, method, target, auth string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := svc.newApp().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestVersion(t *testing.T) {
	svc, _ := newTestService(t)
	code, body := do(t, svc, http.MethodGet, "/api/v1/version", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, projectID+" "+version, string(body))
}

func TestAPI(t *testing.T) {
	svc, dl := newTestService(t)

	code, body := do(t, svc, http.MethodGet, "/api/v1/subscriptions", "")
	require.Equal(t, http.StatusOK, code)
	var subs []subscriptionSummary
	require.NoError(t, json.Unmarshal(body, &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, "Sea Cats", subs[0].Name)
	assert.Equal(t, "gug x", subs[0].GUG)
	require.Len(t, subs[0].Queries, 2)
	assert.Equal(t, string(model.StateUnsynced), subs[0].Queries[0].State)
	assert.Equal(t, model.StatusRecalculate, subs[0].Queries[0].Status)

	// Changes need a valid token.
	code, _ = do(t, svc, http.MethodPost, "/api/v1/run", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, svc, http.MethodPost, "/api/v1/run", "Bearer nonsense")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = do(t, svc, http.MethodPost, "/api/v1/run", token(t))
	require.Equal(t, http.StatusOK, code, string(body))
	var res scheduleSummary
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 2, res.NewFiles)
	assert.Equal(t, 2, dl.checks)

	code, body = do(t, svc, http.MethodGet, "/api/v1/schedule", "")
	require.Equal(t, http.StatusOK, code)
	res = scheduleSummary{}
	require.NoError(t, json.Unmarshal(body, &res))
	assert.NotNil(t, res.LastRun)
	assert.Equal(t, 2, res.Checked)

	// Nothing is due until asked.
	code, body = do(t, svc, http.MethodPost, "/api/v1/run", token(t))
	require.Equal(t, http.StatusOK, code)
	res = scheduleSummary{}
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 0, res.Checked)

	code, body = do(t, svc, http.MethodPost, "/api/v1/subscriptions/Sea%20Cats/checknow?query=calico", token(t))
	require.Equal(t, http.StatusOK, code, string(body))
	var sub subscriptionSummary
	require.NoError(t, json.Unmarshal(body, &sub))
	assert.Equal(t, string(model.StateChecking), sub.Queries[1].State)
	assert.Equal(t, string(model.StateOK), sub.Queries[0].State)

	code, body = do(t, svc, http.MethodPost, "/api/v1/run", token(t))
	require.Equal(t, http.StatusOK, code)
	res = scheduleSummary{}
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 1, res.Checked)

	code, _ = do(t, svc, http.MethodPost, "/api/v1/subscriptions/Sea%20Cats/checknow?query=siamese", token(t))
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, svc, http.MethodPost, "/api/v1/subscriptions/Dogs/pause", token(t))
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(t, svc, http.MethodPost, "/api/v1/subscriptions/Sea%20Cats/pause", token(t))
	require.Equal(t, http.StatusOK, code)
	sub = subscriptionSummary{}
	require.NoError(t, json.Unmarshal(body, &sub))
	assert.True(t, sub.Paused)
}

func TestAPIDisabled(t *testing.T) {
	svc, _ := newTestService(t)
	svc.apiSecret = nil
	code, _ := do(t, svc, http.MethodPost, "/api/v1/run", token(t))
	assert.Equal(t, http.StatusForbidden, code)
}
