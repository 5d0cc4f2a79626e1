package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stayport/booking-service/models"
)

func TestProjectOccupancyBuckets(t *testing.T) {
	cases := []struct {
		name     string
		approved int64
		max      int64
		bucket   OccupancyBucket
	}{
		{"empty", 0, 20, BUCKET_AVAILABLE},
		{"below high boundary", 11, 20, BUCKET_AVAILABLE},
		{"at high boundary", 12, 20, BUCKET_HIGH},
		{"below critical boundary", 15, 20, BUCKET_HIGH},
		{"at critical boundary", 16, 20, BUCKET_CRITICAL},
		{"just under full", 19, 20, BUCKET_CRITICAL},
		{"full", 20, 20, BUCKET_FULL},
		{"overbooked", 21, 20, BUCKET_FULL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := ProjectOccupancy(&models.CapacityLedger{ApprovedCount: tc.approved}, tc.max)
			require.Equal(t, tc.bucket, snap.StatusBucket)
		})
	}
}

func TestProjectOccupancyNearCapacity(t *testing.T) {
	snap := ProjectOccupancy(&models.CapacityLedger{ApprovedCount: 18, PendingCount: 4}, 20)
	require.Equal(t, BUCKET_CRITICAL, snap.StatusBucket)
	require.Equal(t, int64(2), snap.AvailableSlots)
	require.InDelta(t, 90.0, snap.OccupancyRate, 0.001)
	require.Equal(t, int64(0), snap.OverbookedBy)
	require.Equal(t, int64(4), snap.PendingCount)
}

func TestProjectOccupancyOverbooked(t *testing.T) {
	snap := ProjectOccupancy(&models.CapacityLedger{ApprovedCount: 23}, 20)
	require.Equal(t, int64(3), snap.OverbookedBy)
	require.Equal(t, int64(0), snap.AvailableSlots)
	require.Equal(t, BUCKET_FULL, snap.StatusBucket)
}

func TestProjectOccupancyZeroCapacity(t *testing.T) {
	snap := ProjectOccupancy(&models.CapacityLedger{ApprovedCount: 1}, 0)
	require.Equal(t, BUCKET_FULL, snap.StatusBucket)
	require.Equal(t, int64(1), snap.OverbookedBy)
}
