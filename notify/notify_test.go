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

package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ausocean/openfish/datastore"

	"github.com/ausocean/subsync/gauth"
	"github.com/ausocean/subsync/model"
)

const (
	projectID = "subsync"
	sub       = "test subscription"
	message   = "This is a test."
	recipient = "testing@ausocean.org"
)

func init() {
	model.RegisterEntities()
}

// testStore implements a dummy time store for testing purposes.
type testStore struct {
	Attempted int
	Delivered int
}

// Sendable alternates between returning true and false.
func (ts *testStore) Sendable(ctx context.Context, period time.Duration, key string) (bool, error) {
	ts.Attempted++
	return ts.Attempted%2 != 0, nil
}

// Sent just increments the sent counter.
func (ts *testStore) Sent(ctx context.Context, key string) error {
	ts.Delivered++
	return nil
}

// testMailer records mail instead of sending it.
type testMailer struct {
	subjects []string
	to       [][]string
}

func (m *testMailer) Mail(ctx context.Context, from string, to []string, subject, body string) error {
	m.subjects = append(m.subjects, subject)
	m.to = append(m.to, to)
	return nil
}

// TestStore tests the time store functionality.
// For this test, we supply a test store without any secrets.
func TestStore(t *testing.T) {
	ctx := context.Background()

	n := Notifier{}
	ts := testStore{}
	err := n.Init(WithStore(&ts))
	if err != nil {
		t.Errorf("Init failed with error: %v", err)
	}

	// Even numbered attempts should not be delivered.
	tests1 := []struct {
		attempted int
		delivered int
	}{
		{
			attempted: 1,
			delivered: 1,
		},
		{
			attempted: 2,
			delivered: 1,
		},
		{
			attempted: 3,
			delivered: 2,
		},
	}

	for i, test := range tests1 {
		err = n.Send(ctx, sub, KindDead, message)
		if err != nil {
			t.Errorf("Send #%d failed with error: %v", i, err)
		}
		if ts.Attempted != test.attempted {
			t.Errorf("Expected attempted to be %d, got  %d", test.attempted, ts.Attempted)
		}
		if ts.Delivered != test.delivered {
			t.Errorf("Expected delivered to be %d, got %d", test.delivered, ts.Delivered)
		}
	}

	// Now try with filters.
	tests2 := []struct {
		filter    string
		attempted int
		delivered int
	}{
		{
			filter:    "test",
			attempted: 4,
			delivered: 2,
		},
		{
			filter:    "test",
			attempted: 5,
			delivered: 3,
		},
		{
			filter:    "Error:",
			attempted: 5,
			delivered: 3,
		},
	}
	for i, test := range tests2 {
		// Re-initialize with the filter.
		err = n.Init(WithFilter(test.filter), WithStore(&ts))
		if err != nil {
			t.Errorf("Init failed with error: %v", err)
		}
		err = n.Send(ctx, sub, KindDead, message)
		if err != nil {
			t.Errorf("Send #%d failed with error: %v", i, err)
		}
		if ts.Attempted != test.attempted {
			t.Errorf("Expected attempted to be %d, got  %d", test.attempted, ts.Attempted)
		}
		if ts.Delivered != test.delivered {
			t.Errorf("Expected delivered to be %d, got %d", test.delivered, ts.Delivered)
		}
	}
}

// TestTimeStore tests that a datastore-backed time store suppresses
// repeat messages of the same kind about the same subscription.
func TestTimeStore(t *testing.T) {
	ctx := context.Background()
	store, err := datastore.NewStore(ctx, "file", "subsync", t.TempDir())
	if err != nil {
		t.Fatalf("could not create file store: %v", err)
	}

	n := Notifier{}
	m := &testMailer{}
	err = n.Init(WithStore(NewTimeStore(store)), WithPeriod(time.Hour), WithMailer(m), WithRecipients([]string{recipient, "other@ausocean.org"}))
	if err != nil {
		t.Fatalf("Init failed with error: %v", err)
	}

	sends := []struct {
		sub  string
		kind Kind
	}{
		{sub, KindDead},
		{sub, KindDead},
		{sub, KindNotFound},
		{"another subscription", KindDead},
	}
	for i, s := range sends {
		err = n.Send(ctx, s.sub, s.kind, message)
		if err != nil {
			t.Errorf("Send #%d failed with error: %v", i, err)
		}
	}

	want := []string{KindDead.Subject(), KindNotFound.Subject(), KindDead.Subject()}
	if len(m.subjects) != len(want) {
		t.Fatalf("Expected %d messages, got %d: %v", len(want), len(m.subjects), m.subjects)
	}
	for i := range want {
		if m.subjects[i] != want[i] {
			t.Errorf("Message #%d: expected subject %q, got %q", i, want[i], m.subjects[i])
		}
		if len(m.to[i]) != 2 {
			t.Errorf("Message #%d: expected 2 recipients, got %v", i, m.to[i])
		}
	}
}

func TestGetOpsEnvVars(t *testing.T) {
	t.Setenv("OPS_EMAIL", "a@ausocean.org, b@ausocean.org")
	t.Setenv("OPS_PERIOD", "30")
	recipients, period, err := GetOpsEnvVars()
	if err != nil {
		t.Fatalf("GetOpsEnvVars failed with error: %v", err)
	}
	if len(recipients) != 2 || recipients[1] != "b@ausocean.org" {
		t.Errorf("unexpected recipients %v", recipients)
	}
	if period != 30*time.Minute {
		t.Errorf("expected period of 30m, got %v", period)
	}

	t.Setenv("OPS_PERIOD", "soon")
	_, _, err = GetOpsEnvVars()
	if err == nil {
		t.Errorf("expected an error for a malformed OPS_PERIOD")
	}
}

// TestSend tests sending an actual email.
// For this test, we supply secrets and a test recipient.
// It is recommended to run this only locally, as it sends actual emails.
func TestSend(t *testing.T) {
	if os.Getenv("SUBSYNC_SECRETS") == "" {
		t.Skip("SUBSYNC_SECRETS required for TestSend")
	}

	ctx := context.Background()
	n := Notifier{}

	secrets, err := gauth.GetSecrets(ctx, projectID, nil)
	if err != nil {
		t.Errorf("Could not get secrets for %s: %v", projectID, err)
	}

	err = n.Init(WithSecrets(secrets), WithRecipient(recipient))
	if err != nil {
		t.Errorf("Init failed with error: %v", err)
	}

	err = n.Send(ctx, sub, KindError, message)
	if err != nil {
		t.Errorf("Send failed with error: %v", err)
	}
}
