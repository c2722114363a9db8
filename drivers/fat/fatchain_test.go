package fat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/dargueta/diskofat/drivers/common"
	"github.com/dargueta/diskofat/drivers/fat"
)

// newTestChainEngine builds a minimal chain engine over a fresh, all-zero
// in-memory image. The small cluster count classifies the volume as FAT12,
// so its one FAT sector (512 bytes = 341 12-bit entries) holds far more
// than the handful of test clusters below need. It also builds a boot sector
// description with just the fields [fat.ChainEngine] actually reads, and a
// [fat.VolumeWindow] over a [bytesextra.NewReadWriteSeeker]-backed stream,
// mirroring how drivers/fat.Mount wires the same three pieces together.
func newTestChainEngine(t *testing.T, totalClusters uint) *fat.ChainEngine {
	t.Helper()

	const sectorSize = 512
	const sectorsPerFAT = 1
	image := make([]byte, sectorSize*8)
	device := common.NewBlockStream(bytesextra.NewReadWriteSeeker(image), 8, sectorSize, 0)

	window := fat.NewVolumeWindow(&device, 0, sectorsPerFAT, 1)

	boot := &fat.FATBootSector{
		TotalClusters: totalClusters,
		FATVersion:    fat.DetermineFATVersion(totalClusters),
	}
	boot.BytesPerSector = sectorSize

	return fat.NewChainEngine(window, boot, 0)
}

func TestChainEngine_PutFAT_GetFAT__RoundTrip(t *testing.T) {
	engine := newTestChainEngine(t, 16)

	require.NoError(t, engine.PutFAT(2, 5))
	value, err := engine.GetFAT(2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, value)
}

func TestChainEngine_CreateChain_FollowChain__ExtendsAndWalks(t *testing.T) {
	engine := newTestChainEngine(t, 16)

	first, err := engine.CreateChain(0)
	require.NoError(t, err, "allocating the first cluster of a new chain should succeed")
	require.True(t, engine.IsValidCluster(first))

	second, err := engine.CreateChain(first)
	require.NoError(t, err, "extending the chain from its last cluster should succeed")
	assert.NotEqual(t, first, second)

	chain, err := engine.FollowChain(first)
	require.NoError(t, err)
	assert.Equal(t, []fat.ClusterID{first, second}, chain)
}

func TestChainEngine_RemoveChain__FreesEveryClusterInIt(t *testing.T) {
	engine := newTestChainEngine(t, 16)

	first, err := engine.CreateChain(0)
	require.NoError(t, err)
	second, err := engine.CreateChain(first)
	require.NoError(t, err)

	require.NoError(t, engine.RemoveChain(first, 0))

	for _, c := range []fat.ClusterID{first, second} {
		value, err := engine.GetFAT(c)
		require.NoError(t, err)
		assert.EqualValues(t, 0, value, "freed cluster %d should read back as 0", c)
	}
}

func TestChainEngine_FindFree__SkipsAllocatedClusters(t *testing.T) {
	engine := newTestChainEngine(t, 16)

	first, err := engine.CreateChain(0)
	require.NoError(t, err)

	free, err := engine.FindFree(0)
	require.NoError(t, err)
	assert.NotEqual(t, first, free, "FindFree must not return an already-allocated cluster")
	assert.True(t, engine.IsValidCluster(free))
}

func TestChainEngine_ExtendContiguous__ReturnsALinkedSequentialRun(t *testing.T) {
	engine := newTestChainEngine(t, 16)

	start, err := engine.ExtendContiguous(2, 4)
	require.NoError(t, err)

	chain, err := engine.FollowChain(start)
	require.NoError(t, err)
	require.Len(t, chain, 4)
	for i := 1; i < len(chain); i++ {
		assert.Equal(t, chain[i-1]+1, chain[i], "ExtendContiguous's run must be sequential on disk")
	}
}

func TestChainEngine_FollowChain__DetectsCycles(t *testing.T) {
	engine := newTestChainEngine(t, 16)

	// Manually wire a two-cluster cycle: 2 -> 3 -> 2, which a well-formed
	// chain can never produce but a corrupted FAT might.
	require.NoError(t, engine.PutFAT(2, 3))
	require.NoError(t, engine.PutFAT(3, 2))

	_, err := engine.FollowChain(2)
	assert.Error(t, err, "a cyclic chain must be rejected rather than looped forever")
}
