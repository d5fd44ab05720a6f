package dag

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// shrinkShards lowers the per-file line cap so boundary handling is testable
// without multi-gigabyte files.
func shrinkShards(t *testing.T, lines uint32) {
	t.Helper()
	old := linesPerFile
	linesPerFile = lines
	t.Cleanup(func() { linesPerFile = old })
}

func randomLines(t *testing.T, count uint32) []byte {
	t.Helper()
	buf := make([]byte, uint64(count)*MixBytes)
	rng := rand.New(rand.NewSource(0x5eed))
	if _, err := rng.Read(buf); err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestDAGFileRoundTrip(t *testing.T) {
	shrinkShards(t, 8)
	base := filepath.Join(t.TempDir(), "dag")

	// linesPerFile + 6 lines must spill into "<base>-1".
	const total = 8 + 6
	data := randomLines(t, total)

	handle, err := OpenDAGFile(base, os.O_RDWR|os.O_CREATE, 0o644, total)
	require.NoError(t, err)
	require.NoError(t, handle.WriteLines(data, total, 0))

	st, err := os.Stat(base)
	require.NoError(t, err)
	require.Equal(t, int64(8*MixBytes), st.Size(), "first shard must be full")
	st, err = os.Stat(base + "-1")
	require.NoError(t, err)
	require.Equal(t, int64(6*MixBytes), st.Size(), "second shard holds the spill")

	size, err := handle.Bytes()
	require.NoError(t, err)
	require.Equal(t, uint64(total*MixBytes), size)

	// Whole-range read back.
	got := make([]byte, len(data))
	require.NoError(t, handle.ReadLines(got, total, 0))
	require.True(t, bytes.Equal(data, got))

	// Reads and writes straddling the shard boundary.
	straddle := randomLines(t, 6)
	require.NoError(t, handle.WriteLines(straddle, 6, 5))
	got = make([]byte, len(straddle))
	require.NoError(t, handle.ReadLines(got, 6, 5))
	require.True(t, bytes.Equal(straddle, got))

	// Single-line reads on both sides of the boundary.
	one := make([]byte, MixBytes)
	require.NoError(t, handle.ReadLines(one, 1, 7))
	require.True(t, bytes.Equal(straddle[2*MixBytes:3*MixBytes], one))
	require.NoError(t, handle.ReadLines(one, 1, 8))
	require.True(t, bytes.Equal(straddle[3*MixBytes:4*MixBytes], one))

	require.NoError(t, handle.Close())

	// Close keeps the files; reopen and verify.
	handle, err = OpenDAGFile(base, os.O_RDONLY, 0, total)
	require.NoError(t, err)
	got = make([]byte, 4*MixBytes)
	require.NoError(t, handle.ReadLines(got, 4, 6))
	require.True(t, bytes.Equal(straddle[MixBytes:5*MixBytes], got))

	// Remove deletes every shard.
	require.NoError(t, handle.Remove())
	_, err = os.Stat(base)
	require.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(base+"-1")
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDAGFileRangeChecks(t *testing.T) {
	shrinkShards(t, 8)
	base := filepath.Join(t.TempDir(), "dag")

	handle, err := OpenDAGFile(base, os.O_RDWR|os.O_CREATE, 0o644, 12)
	require.NoError(t, err)
	defer handle.Remove()

	buf := make([]byte, 2*MixBytes)
	require.Error(t, handle.ReadLines(buf, 2, 11), "range past full_lines must fail")
	require.Error(t, handle.WriteLines(buf, 2, 11))

	// A truncated shard turns into a short-read error, not silent data.
	require.NoError(t, handle.WriteLines(randomLines(t, 12), 12, 0))
	require.NoError(t, os.Truncate(base+"-1", MixBytes))
	err = handle.ReadLines(buf, 2, 8)
	require.Error(t, err, "short read must be fatal")
}

func TestDAGFileOpenFailureCleanup(t *testing.T) {
	shrinkShards(t, 8)
	dir := t.TempDir()
	base := filepath.Join(dir, "dag")

	// Only the first shard exists; opening for 12 lines needs both. The
	// probe must fail with not-exist and leave nothing behind.
	require.NoError(t, os.WriteFile(base, make([]byte, 8*MixBytes), 0o644))
	_, err := OpenDAGFile(base, os.O_RDONLY, 0, 12)
	require.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
	_, err = os.Stat(base)
	require.True(t, errors.Is(err, os.ErrNotExist), "partially opened shards are unlinked")
}

func TestDAGFileTooLarge(t *testing.T) {
	shrinkShards(t, 8)
	_, err := OpenDAGFile(filepath.Join(t.TempDir(), "dag"), os.O_RDWR|os.O_CREATE, 0o644, 17)
	require.ErrorIs(t, err, ErrDAGTooLarge)
}

func TestWriteAndMapDAGFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dag")
	data := randomLines(t, 32)

	require.NoError(t, WriteDAGFile(path, data))

	mapped, err := OpenMappedDAG(path)
	require.NoError(t, err)
	require.Equal(t, uint32(32), mapped.FullLines())
	require.NoError(t, mapped.Require(32))
	require.Error(t, mapped.Require(33), "line count mismatch must fail loudly")
	require.True(t, bytes.Equal(data[5*MixBytes:6*MixBytes], mapped.Line(5)))
	require.NoError(t, mapped.Close())

	// Sizes that are not a multiple of the line width are rejected.
	ragged := filepath.Join(t.TempDir(), "ragged")
	require.NoError(t, os.WriteFile(ragged, make([]byte, MixBytes+1), 0o644))
	_, err = OpenMappedDAG(ragged)
	require.Error(t, err)

	require.Error(t, WriteDAGFile(path, data[:MixBytes-1]))
}
