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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ausocean/subsync/gauth"
	"github.com/ausocean/subsync/model"
)

// ErrGalleryNotFound is returned by a Downloader when a query's gallery
// no longer exists.
var ErrGalleryNotFound = errors.New("gallery not found")

// Request asks a downloader to check one query.
type Request struct {
	Subscription string
	GUG          model.GUGKeyAndName
	Query        string
	URL          string // Empty if the downloader has no URL generator.
	FileLimit    int
	Known        int // Number of files already known for the query.
}

// Downloader checks a query's gallery for new files.
type Downloader interface {
	Check(ctx context.Context, req Request) ([]model.FileSeed, error)
}

// tokenTTL is the lifetime of a signed downloader request.
const tokenTTL = 5 * time.Minute

// RemoteDownloader is a Downloader that posts each request as JSON to
// an external downloader service. When Secret is set each request
// carries a bearer token from Issuer about the subscription.
type RemoteDownloader struct {
	Endpoint string
	Client   *http.Client // Optional, defaults to http.DefaultClient.
	Issuer   string
	Secret   []byte
}

// response is the body returned by a downloader service.
type response struct {
	Seeds []model.FileSeed
}

// Check implements Downloader. A 404 from the service means the
// gallery was not found.
func (d *RemoteDownloader) Check(ctx context.Context, r Request) ([]model.FileSeed, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invalid downloader request %s: %w", d.Endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.Secret != nil {
		tok, err := gauth.IssueToken(d.Issuer, r.Subscription, tokenTTL, d.Secret)
		if err != nil {
			return nil, fmt.Errorf("could not sign downloader request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	clt := d.Client
	if clt == nil {
		clt = http.DefaultClient
	}
	resp, err := clt.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloader request error: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrGalleryNotFound, r.URL)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("downloader returned unexpected status: %s: %s", http.StatusText(resp.StatusCode), bytes.TrimSpace(msg))
	}

	var res response
	err = json.NewDecoder(resp.Body).Decode(&res)
	if err != nil {
		return nil, fmt.Errorf("could not decode downloader response: %w", err)
	}
	return res.Seeds, nil
}
