package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextRunTimeSameMonth(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	next := nextRunTime(now, 15, 2)
	require.Equal(t, time.Date(2025, 3, 15, 2, 0, 0, 0, time.UTC), next)
}

func TestNextRunTimeRollsToNextMonth(t *testing.T) {
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

	next := nextRunTime(now, 15, 2)
	require.Equal(t, time.Date(2025, 4, 15, 2, 0, 0, 0, time.UTC), next)
}

func TestNextRunTimeExactMomentRolls(t *testing.T) {
	now := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)

	next := nextRunTime(now, 1, 2)
	require.Equal(t, time.Date(2025, 4, 1, 2, 0, 0, 0, time.UTC), next)
}

func TestNextRunTimeClampsInvalidConfig(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	// Day 31 would skip February entirely, so out-of-range days fall back to
	// the 1st and invalid hours to 02:00.
	next := nextRunTime(now, 31, 99)
	require.Equal(t, time.Date(2025, 2, 1, 2, 0, 0, 0, time.UTC), next)
}
