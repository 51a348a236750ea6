package inventory_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/inventory"
)

// =============================================================================
// DATE RANGE TESTS
// =============================================================================

func TestDateRange_EndBeforeStart_Rejected(t *testing.T) {
	start := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	_, err := inventory.NewDateRange(start, start.Add(-time.Hour))

	require.Error(t, err)
	assert.ErrorIs(t, err, inventory.ErrInvalidDateRange)
	var rangeErr *inventory.DateRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, start, rangeErr.Start)
}

func TestDateRange_Days(t *testing.T) {
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{"same instant is one day", base, 1},
		{"a few hours is one day", base.Add(5 * time.Hour), 1},
		{"next midnight is two days", base.AddDate(0, 0, 1), 2},
		{"a week", base.AddDate(0, 0, 6), 7},
		{"partial last day rounds down", base.AddDate(0, 0, 3).Add(23 * time.Hour), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := inventory.MustDateRange(base, tt.end)
			assert.Equal(t, tt.want, r.Days())
		})
	}
}

func TestDateRange_Overlaps_Inclusive(t *testing.T) {
	// GIVEN: March 1-5
	march := inventory.Days(2026, time.March, 1, 5)

	// THEN: A range starting on the 5th overlaps, the 6th does not
	assert.True(t, march.Overlaps(inventory.Days(2026, time.March, 5, 8)))
	assert.True(t, inventory.Days(2026, time.March, 5, 8).Overlaps(march))
	assert.False(t, march.Overlaps(inventory.Days(2026, time.March, 6, 8)))
	assert.True(t, march.Overlaps(inventory.Days(2026, time.March, 2, 3)), "contained range")
	assert.True(t, march.Overlaps(inventory.Days(2026, time.February, 20, 1)), "ends on start day")
}

func TestDateRange_NormalizesToUTCSeconds(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	start := time.Date(2026, time.March, 1, 7, 0, 0, 500, loc)

	r := inventory.MustDateRange(start, start.AddDate(0, 0, 1))

	assert.Equal(t, time.UTC, r.Start.Location())
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), r.Start)
}

// =============================================================================
// TARGET TESTS
// =============================================================================

func TestTarget_JSON(t *testing.T) {
	data, err := json.Marshal(inventory.BundleTarget(3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"bundle","id":3}`, string(data))

	var parsed inventory.Target
	require.NoError(t, json.Unmarshal([]byte(`{"type":"product","id":7}`), &parsed))
	id, ok := parsed.Product()
	assert.True(t, ok)
	assert.Equal(t, inventory.ProductID(7), id)
	_, isBundle := parsed.Bundle()
	assert.False(t, isBundle)
}

func TestTarget_UnknownType_Rejected(t *testing.T) {
	var parsed inventory.Target
	err := json.Unmarshal([]byte(`{"type":"both","id":1}`), &parsed)

	assert.ErrorIs(t, err, inventory.ErrInvalidTarget)
	assert.True(t, parsed.IsZero())
}

func TestStatus_ActiveAndSettled(t *testing.T) {
	assert.True(t, inventory.StatusPending.IsActive())
	assert.True(t, inventory.StatusPaid.IsActive())
	assert.True(t, inventory.StatusRented.IsActive())
	assert.False(t, inventory.StatusCancelled.IsActive())
	assert.False(t, inventory.StatusFinished.IsActive())

	assert.False(t, inventory.StatusPending.IsSettled())
	assert.True(t, inventory.StatusFinished.IsSettled())

	_, err := inventory.ParseStatus("lost")
	assert.ErrorIs(t, err, inventory.ErrInvalidStatus)
}
