package exfat_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/diskofat/drivers/exfat"
)

// computeEntrySetChecksum reimplements the exFAT §6.3.3 rotate-and-add
// checksum independently of the package under test, so the test exercises
// genuine agreement with the specification rather than calling back into
// the same code it's checking.
func computeEntrySetChecksum(rawSet []byte) uint16 {
	var checksum uint16
	for i, b := range rawSet {
		if i == 2 || i == 3 {
			continue
		}
		checksum = ((checksum << 15) | (checksum >> 1)) + uint16(b)
	}
	return checksum
}

// buildFileEntrySet hand-assembles a minimal three-entry exFAT entry set
// (File primary + Stream Extension + one File Name fragment) for a file
// with a one-character name, the way dsoprea-go-exfat's structures would
// appear on disk (exFAT §7.4-7.7).
func buildFileEntrySet(t *testing.T, name string, firstCluster uint32, dataLength uint64) []byte {
	t.Helper()
	const le = true
	_ = le

	set := make([]byte, 96)

	// Primary: File directory entry.
	set[0] = 0x85 // in-use, primary, critical, type code 5 (File)
	set[1] = 2    // SecondaryCount: stream extension + 1 name fragment
	// bytes 2-3 are SetChecksum, filled in after the rest is built.
	binary.LittleEndian.PutUint16(set[4:6], 0) // FileAttributes

	// Secondary: Stream Extension directory entry.
	set[32] = 0xC0 // in-use, secondary, critical, type code 0
	set[33] = 0    // SecondaryFlags: NoFatChain clear
	set[35] = byte(len(name))
	binary.LittleEndian.PutUint64(set[32+8:32+16], 0) // ValidDataLength
	binary.LittleEndian.PutUint32(set[32+20:32+24], firstCluster)
	binary.LittleEndian.PutUint64(set[32+24:32+32], dataLength)

	// Secondary: File Name directory entry.
	set[64] = 0xC1 // in-use, secondary, critical, type code 1
	set[65] = 0
	for i, r := range name {
		binary.LittleEndian.PutUint16(set[66+i*2:66+i*2+2], uint16(r))
	}

	checksum := computeEntrySetChecksum(set)
	binary.LittleEndian.PutUint16(set[2:4], checksum)

	return set
}

func TestDecodeEntrySets__SingleFile(t *testing.T) {
	cluster := make([]byte, 2048)
	set := buildFileEntrySet(t, "A", 7, 512)
	copy(cluster, set)
	// Remaining bytes are already zero, which DecodeEntrySets reads as an
	// end-of-directory marker (entry type 0) and stops at.

	dirents, special, err := exfat.DecodeEntrySets(cluster)
	require.NoError(t, err)
	assert.Empty(t, special, "no allocation-bitmap/up-case/label entries in this cluster")
	require.Len(t, dirents, 1)

	got := dirents[0]
	assert.Equal(t, "A", got.Name())
	assert.EqualValues(t, 7, got.FirstCluster)
	assert.EqualValues(t, 512, got.Size())
	assert.False(t, got.NoFATChain)
}

func TestDecodeEntrySets__ChecksumMismatchIsRejected(t *testing.T) {
	cluster := make([]byte, 2048)
	set := buildFileEntrySet(t, "A", 7, 512)
	// Corrupt a byte covered by the checksum without updating it.
	set[10] ^= 0xFF
	copy(cluster, set)

	_, _, err := exfat.DecodeEntrySets(cluster)
	assert.Error(t, err, "a tampered entry set should fail checksum validation")
}

func TestDecodeEntrySets__StopsAtEndOfDirectoryMarker(t *testing.T) {
	cluster := make([]byte, 64) // all zero: entry type 0 immediately

	dirents, special, err := exfat.DecodeEntrySets(cluster)
	require.NoError(t, err)
	assert.Empty(t, dirents)
	assert.Empty(t, special)
}

func TestDecodeEntrySets__NoFatChainFlagSurfaces(t *testing.T) {
	cluster := make([]byte, 2048)
	set := buildFileEntrySet(t, "B", 9, 2048)
	set[33] = 2 // SecondaryFlags: NoFatChain bit set

	// The checksum was computed before flipping the flag bit, so recompute.
	binary.LittleEndian.PutUint16(set[2:4], 0)
	checksum := computeEntrySetChecksum(set)
	binary.LittleEndian.PutUint16(set[2:4], checksum)
	copy(cluster, set)

	dirents, _, err := exfat.DecodeEntrySets(cluster)
	require.NoError(t, err)
	require.Len(t, dirents, 1)
	assert.True(t, dirents[0].NoFATChain)
}
