package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// seedsAged returns a file seed cache with one file posted at each age before testNow.
func seedsAged(ages ...time.Duration) *FileSeedCache {
	c := &FileSeedCache{}
	for i, a := range ages {
		c.AddSeeds(FileSeed{URL: fmt.Sprintf("https://example.com/f/%d", i), Status: SeedSuccessful, SourceTime: testNow.Add(-a)})
	}
	return c
}

func dailyAges(n int) []time.Duration {
	ages := make([]time.Duration, n)
	for i := range ages {
		ages[i] = time.Duration(i+1) * day
	}
	return ages
}

func repeatAge(n int, age time.Duration) []time.Duration {
	ages := make([]time.Duration, n)
	for i := range ages {
		ages[i] = age
	}
	return ages
}

func TestNextCheckTime(t *testing.T) {
	opts := DefaultCheckerOptions()
	tests := []struct {
		name      string
		history   *FileSeedCache
		lastCheck time.Time
		want      time.Time
	}{
		{
			name:    "never checked",
			history: &FileSeedCache{},
			want:    time.Time{},
		},
		{
			name:      "checked but found nothing",
			history:   &FileSeedCache{},
			lastCheck: testNow,
			want:      testNow.Add(90 * day),
		},
		{
			name:      "one file a day",
			history:   seedsAged(dailyAges(30)...),
			lastCheck: testNow,
			want:      testNow.Add(4 * day),
		},
		{
			name:      "burst then quiet",
			history:   seedsAged(repeatAge(10, 60*day)...),
			lastCheck: testNow,
			want:      testNow.Add(60 * day),
		},
		{
			name:      "nothing in the death window",
			history:   seedsAged(400 * day),
			lastCheck: testNow,
			want:      testNow.Add(90 * day),
		},
		{
			name:      "very fast query is capped",
			history:   seedsAged(repeatAge(500, time.Hour)...),
			lastCheck: testNow,
			want:      testNow.Add(day),
		},
	}

	for _, test := range tests {
		got := opts.NextCheckTime(test.history, test.lastCheck)
		if !got.Equal(test.want) {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
		}
	}
}

func TestIsDead(t *testing.T) {
	opts := DefaultCheckerOptions()
	tests := []struct {
		name      string
		history   *FileSeedCache
		lastCheck time.Time
		want      bool
	}{
		{name: "new query", history: &FileSeedCache{}, want: false},
		{name: "checked and empty", history: &FileSeedCache{}, lastCheck: testNow, want: true},
		{name: "active", history: seedsAged(dailyAges(30)...), lastCheck: testNow, want: false},
		{name: "stale", history: seedsAged(400*day, 300*day), lastCheck: testNow, want: true},
	}

	for _, test := range tests {
		got := opts.IsDead(test.history, test.lastCheck)
		if got != test.want {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
		}
	}
}

func TestCheckerOptionsValidate(t *testing.T) {
	good := DefaultCheckerOptions()
	if err := good.Validate(); err != nil {
		t.Errorf("default options failed validation: %v", err)
	}

	bad := []CheckerOptions{
		{IntendedFilesPerCheck: 0, NeverFasterThan: day, NeverSlowerThan: day, DeathFileVelocity: Velocity{1, day}},
		{IntendedFilesPerCheck: 1, NeverFasterThan: 2 * day, NeverSlowerThan: day, DeathFileVelocity: Velocity{1, day}},
		{IntendedFilesPerCheck: 1, NeverFasterThan: day, NeverSlowerThan: day, DeathFileVelocity: Velocity{0, day}},
		{IntendedFilesPerCheck: 1, NeverFasterThan: 0, NeverSlowerThan: day, DeathFileVelocity: Velocity{1, day}},
	}
	for i, o := range bad {
		err := o.Validate()
		if !errors.Is(err, ErrInvalidCheckerOptions) {
			t.Errorf("bad options %d: got %v, want ErrInvalidCheckerOptions", i, err)
		}
	}
}

func TestPrettyVelocity(t *testing.T) {
	opts := DefaultCheckerOptions()
	got := opts.PrettyVelocity(seedsAged(dailyAges(5)...), testNow)
	if want := "5 files in 5 days"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	got = opts.PrettyVelocity(&FileSeedCache{}, time.Time{})
	if want := "no files yet"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
