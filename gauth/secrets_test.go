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

package gauth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const (
	projectID = "subsynctest"
	secretKey = "mailjetPublicKey"
)

func TestGetSecretsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.txt")
	err := os.WriteFile(path, []byte("mailjetPublicKey:pub\r\nmailjetPrivateKey:priv\n"), 0600)
	if err != nil {
		t.Fatalf("could not write secrets: %v", err)
	}
	t.Setenv("SUBSYNCTEST_SECRETS", path)

	ctx := context.Background()
	v, err := GetSecret(ctx, projectID, secretKey)
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if v != "pub" {
		t.Errorf("expected pub, got %q", v)
	}

	_, err = GetSecrets(ctx, projectID, []string{"apiKey"})
	if err == nil {
		t.Errorf("expected an error for a missing key")
	}

	t.Setenv("SUBSYNCTEST_SECRETS", "")
	_, err = GetSecrets(ctx, projectID, nil)
	if err == nil {
		t.Errorf("expected an error for an undefined environment variable")
	}
}

func TestSplitGSB(t *testing.T) {
	tests := []struct {
		url     string
		bucket  string
		object  string
		wantErr bool
	}{
		{url: "gs://bucket/secrets.txt", bucket: "bucket", object: "secrets.txt"},
		{url: "gs://bucket/dir/export.json", bucket: "bucket", object: "dir/export.json"},
		{url: "gs://bucket", wantErr: true},
		{url: "gs://bucket/", wantErr: true},
		{url: "gs:///object", wantErr: true},
		{url: "/tmp/secrets.txt", wantErr: true},
	}

	for i, test := range tests {
		bucket, object, err := splitGSB(test.url)
		if (err != nil) != test.wantErr {
			t.Errorf("test %d: unexpected error: %v", i, err)
			continue
		}
		if bucket != test.bucket || object != test.object {
			t.Errorf("test %d: expected %s/%s, got %s/%s", i, test.bucket, test.object, bucket, object)
		}
	}
}

func TestGetSecretsFromBucket(t *testing.T) {
	if os.Getenv("SUBSYNC_SECRETS") == "" {
		t.Skipf("skipping TestGetSecretsFromBucket")
	}
	_, err := GetSecret(context.Background(), "subsync", secretKey)
	if err != nil {
		t.Errorf("GetSecret failed: %v", err)
	}
}
