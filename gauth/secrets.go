/*
DESCRIPTION
  Package gauth reads secrets and other small objects from either a
  local file or a Google Storage bucket.

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

// Package gauth provides access to secrets.
package gauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/ausocean/utils/filemap"
)

// The URL scheme that represents a Google Storage Bucket.
const gsbScheme = "gs://"

// GetSecrets looks up secrets from either a file or Google Storage
// bucket specified by the <PROJECTID>_SECRETS environment variable.
// Each line is a colon-separated key and value.
// The keys argument specifies required keys.
func GetSecrets(ctx context.Context, projectID string, keys []string) (map[string]string, error) {
	var m map[string]string
	ev := strings.ToUpper(projectID) + "_SECRETS"
	url := os.Getenv(ev)
	if url == "" {
		return m, errors.New(ev + " environment variable not defined")
	}

	bytes, err := ReadFile(ctx, url)
	if err != nil {
		return m, err
	}

	// Strip carriage carriage returns, if any.
	s := strings.ReplaceAll(string(bytes), "\r", "")

	// There is one colon-separated secret per line.
	m = filemap.Split(s, "\n", ":")
	for _, k := range keys {
		v := m[k]
		if v == "" {
			return m, fmt.Errorf("missing key %s", k)
		}
	}
	return m, nil
}

// GetSecret gets a single secret from either a file or Google Storage
// bucket specified by the <PROJECTID>_SECRETS environment variable.
func GetSecret(ctx context.Context, projectID, key string) (string, error) {
	secrets, err := GetSecrets(ctx, projectID, []string{key})
	if err != nil {
		return "", err
	}
	return secrets[key], nil
}

// ReadFile reads a local file, or a Google Storage bucket object if
// path takes the form gs://<bucket_name>/<object_name>.
func ReadFile(ctx context.Context, path string) ([]byte, error) {
	if strings.HasPrefix(path, gsbScheme) {
		return ReadGoogleStorageBucket(ctx, path)
	}
	return os.ReadFile(path)
}

// ReadGoogleStorageBucket read the contents of the Google Storage
// bucket specified by the URL.  The URL must take the form:
// gs://<bucket_name>/<object_name>
func ReadGoogleStorageBucket(ctx context.Context, url string) ([]byte, error) {
	bucket, object, err := splitGSB(url)
	if err != nil {
		return nil, err
	}

	clt, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot create GSB client: %w", err)
	}
	defer clt.Close()
	r, err := clt.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot create GSB reader: %w", err)
	}

	defer r.Close()
	bytes, err := io.ReadAll(r)
	if err != nil {
		return bytes, fmt.Errorf("cannot read GSB: %w", err)
	}

	return bytes, nil
}

// splitGSB returns the bucket and object names of a gs:// URL.
func splitGSB(url string) (bucket, object string, err error) {
	if !strings.HasPrefix(url, gsbScheme) {
		return "", "", fmt.Errorf("invalid GSB URL %s", url)
	}
	url = url[len(gsbScheme):]
	sep := strings.IndexByte(url, '/')
	if sep <= 0 || sep == len(url)-1 {
		return "", "", fmt.Errorf("invalid GSB URL %s", gsbScheme+url)
	}
	return url[:sep], url[sep+1:], nil
}
