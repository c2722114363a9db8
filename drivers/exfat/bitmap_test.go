package exfat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/diskofat/drivers/exfat"
)

func TestBitmap_AllocateFree__RoundTrip(t *testing.T) {
	bm := exfat.NewBitmap(16)

	first, err := bm.Allocate()
	require.NoError(t, err, "first allocation should succeed on an empty bitmap")
	assert.EqualValues(t, 2, first, "clusters are numbered starting at 2")

	allocated, err := bm.IsAllocated(first)
	require.NoError(t, err)
	assert.True(t, allocated, "cluster should be marked in-use after Allocate")

	require.NoError(t, bm.Free(first))
	allocated, err = bm.IsAllocated(first)
	require.NoError(t, err)
	assert.False(t, allocated, "cluster should be free again after Free")
}

func TestBitmap_Allocate__ExhaustsAndReportsNoSpace(t *testing.T) {
	bm := exfat.NewBitmap(2)

	_, err := bm.Allocate()
	require.NoError(t, err)
	_, err = bm.Allocate()
	require.NoError(t, err)

	_, err = bm.Allocate()
	assert.Error(t, err, "allocating past capacity should fail")
}

func TestBitmap_AllocateContiguous__FindsRun(t *testing.T) {
	bm := exfat.NewBitmap(8)

	// Fragment the front of the bitmap so a contiguous search has to skip
	// past it to find the first real run.
	first, err := bm.Allocate()
	require.NoError(t, err)
	require.NoError(t, bm.Free(first))
	_, err = bm.Allocate() // next-fit: cluster 3 now allocated, cluster 2 left free
	require.NoError(t, err)

	start, err := bm.AllocateContiguous(3)
	require.NoError(t, err, "should find a run of 3 free clusters")

	for c := start; c < start+3; c++ {
		allocated, err := bm.IsAllocated(c)
		require.NoError(t, err)
		assert.True(t, allocated, "every cluster in the requested run should be marked in-use")
	}
}

func TestBitmap_AllocateContiguous__NoRunAvailable(t *testing.T) {
	bm := exfat.NewBitmap(4)

	// Allocate clusters 2 and 4, leaving 3 and 5 free but not contiguous
	// with each other in a run of 2... actually with only 4 clusters total
	// (2..5), free clusters 3 and 5 are not adjacent, so a run of 2 is
	// impossible.
	_, err := bm.Allocate() // 2
	require.NoError(t, err)
	third, err := bm.Allocate() // 3
	require.NoError(t, err)
	require.NoError(t, bm.Free(third))
	_, err = bm.Allocate() // 4 (next-fit), leaving clusters 3 and 5 free
	require.NoError(t, err)

	_, err = bm.AllocateContiguous(2)
	assert.Error(t, err, "no run of 2 contiguous free clusters exists")
}

func TestBitmap_FreeCount__TracksAllocations(t *testing.T) {
	bm := exfat.NewBitmap(10)
	assert.EqualValues(t, 10, bm.FreeCount())

	c, err := bm.Allocate()
	require.NoError(t, err)
	assert.EqualValues(t, 9, bm.FreeCount())

	require.NoError(t, bm.Free(c))
	assert.EqualValues(t, 10, bm.FreeCount())
}

func TestBitmap_ClusterIndex__RejectsOutOfRange(t *testing.T) {
	bm := exfat.NewBitmap(4)

	_, err := bm.IsAllocated(1) // clusters start at 2
	assert.Error(t, err, "cluster 1 is reserved and never a valid data cluster")

	_, err = bm.IsAllocated(100)
	assert.Error(t, err, "cluster far beyond the volume's cluster count should be rejected")
}
