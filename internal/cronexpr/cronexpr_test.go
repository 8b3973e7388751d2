package cronexpr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextHourly(t *testing.T) {
	e := NewStandard()
	ref := time.Date(2026, 10, 18, 12, 10, 0, 0, time.UTC)

	next, err := e.Next(ref, "0 * * * *", "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 18, 13, 0, 0, 0, time.UTC), next.UTC())

	// strictly after the reference
	again, err := e.Next(next, "0 * * * *", "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC), again.UTC())
}

func TestNextHonorsZone(t *testing.T) {
	e := NewStandard()
	ref := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	next, err := e.Next(ref, "0 9 * * *", "America/New_York")
	require.NoError(t, err)
	// 09:00 EDT is 13:00 UTC
	assert.Equal(t, time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextDescriptor(t *testing.T) {
	next, err := NewStandard().Next(time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC), "@hourly", "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextErrors(t *testing.T) {
	e := NewStandard()

	_, err := e.Next(time.Now(), "not a cron", "")
	assert.ErrorIs(t, err, ErrInvalidExpression)

	_, err = e.Next(time.Now(), "* * * * *", "Mars/Olympus_Mons")
	assert.ErrorIs(t, err, ErrInvalidTimeZone)

	assert.Error(t, e.Validate("61 * * * *"))
	assert.NoError(t, e.Validate("*/5 * * * *"))
}

func TestPeriod(t *testing.T) {
	ref := time.Date(2026, 10, 18, 12, 10, 0, 0, time.UTC)

	first, period, err := Period(NewStandard(), ref, "0 * * * *", "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 18, 13, 0, 0, 0, time.UTC), first.UTC())
	assert.Equal(t, time.Hour, period)

	_, period, err = Period(NewStandard(), ref, "0 0 * * *", "UTC")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, period)
}

func TestZeroValueStandard(t *testing.T) {
	var s Standard
	_, err := s.Next(time.Now(), "*/5 * * * *", "Europe/Berlin")
	assert.NoError(t, err)
}
