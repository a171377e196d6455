package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryHeaderStates(t *testing.T) {
	opts := DefaultCheckerOptions()
	q := NewQueryHeader("samus_aran")
	c := NewQueryLogContainer(q.ContainerName)

	assert.Equal(t, StateUnsynced, q.State())
	assert.False(t, q.IsDue(testNow), "unsynced headers are never due")

	q.SyncToContainer(opts, c, testNow)
	assert.Equal(t, StateOK, q.State())
	assert.True(t, q.IsDue(testNow), "a never checked query is due at once")

	q.CheckNow()
	assert.Equal(t, StateChecking, q.State())

	c.FileSeedCache.AddSeeds(seedsAged(dailyAges(30)...).Seeds...)
	q.RegisterCheck(testNow, opts, c, CheckerOK)
	assert.Equal(t, StateOK, q.State())
	assert.False(t, q.CheckNowPending)
	assert.Equal(t, testNow.Add(4*day), q.NextCheckTime)
	assert.False(t, q.IsDue(testNow.Add(day)))
	assert.True(t, q.IsDue(testNow.Add(4*day)))
	assert.Equal(t, "next check in 1 day", q.Status(testNow.Add(3*day)))
	assert.Equal(t, "30 files in 30 days", q.Velocity)
	assert.Equal(t, "30/30 done", q.FileStatus)

	q.RegisterCheck(testNow, opts, c, CheckerFourOhFour)
	assert.Equal(t, StateFourOhFour, q.State())
	assert.False(t, q.IsExpectingToWorkInFuture())

	q.CheckNow()
	assert.Equal(t, StateChecking, q.State(), "check now revives a missing gallery")

	q.PausePlay()
	assert.False(t, q.IsDue(testNow))
	assert.Equal(t, "paused, checking now", q.Status(testNow))
}

func TestQueryHeaderDies(t *testing.T) {
	opts := DefaultCheckerOptions()
	q := NewQueryHeader("old")
	c := NewQueryLogContainer(q.ContainerName)
	c.FileSeedCache.AddSeeds(seedsAged(400*day).Seeds...)

	q.RegisterCheck(testNow, opts, c, CheckerOK)
	assert.Equal(t, StateDead, q.State())
	assert.False(t, q.IsDue(testNow.Add(365*day)))
}

func TestQueryHeaderResetAndRetry(t *testing.T) {
	opts := DefaultCheckerOptions()
	q := NewQueryHeader("metroid")
	c := NewQueryLogContainer(q.ContainerName)
	c.FileSeedCache.AddSeeds(
		FileSeed{URL: "https://example.com/1", Status: SeedFailed},
		FileSeed{URL: "https://example.com/2", Status: SeedVetoed},
		FileSeed{URL: "https://example.com/3", Status: SeedSkipped},
		FileSeed{URL: "https://example.com/4", Status: SeedSuccessful},
	)
	q.RegisterCheck(testNow, opts, c, CheckerOK)
	assert.Equal(t, "4/4 done, 1 failed, 1 vetoed, 1 skipped", q.FileStatus)

	retried := testNow.Add(time.Hour)
	assert.Equal(t, 1, q.RetryFailed(retried, c))
	assert.Equal(t, "3/4 done, 1 vetoed, 1 skipped", q.FileStatus)
	assert.True(t, c.FileSeedCache.Seeds[0].Modified.Equal(retried))

	assert.Equal(t, 2, q.RetryIgnored(retried.Add(time.Hour), c))
	assert.Equal(t, "1/4 done", q.FileStatus)
	assert.True(t, c.FileSeedCache.Seeds[1].Modified.Equal(retried.Add(time.Hour)))
	assert.True(t, c.FileSeedCache.Seeds[3].Modified.IsZero(), "successful seeds are untouched")

	q.Reset(c)
	assert.Equal(t, 0, c.FileSeedCache.Len())
	assert.True(t, q.LastCheckTime.IsZero())
	assert.Equal(t, StateOK, q.State())
	assert.Equal(t, "no files", q.FileStatus)
	assert.True(t, q.IsDue(time.Now()))
}
