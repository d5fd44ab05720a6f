package dag

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/sha3"
)

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex constant %q: %v", s, err)
	}
	return b
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// syntheticCache builds the one-line cache from an all-zero seed used by the
// hardware bring-up flows: small enough that every dataset item is cheap, yet
// exercising the full derivation.
func syntheticCache() []byte {
	cache := make([]byte, HashBytes)
	MakeCache(cache, make([]byte, SeedBytes), Ethash)
	return cache
}

func TestFNV(t *testing.T) {
	pairs := [][2]uint32{
		{0, 0},
		{1, 0},
		{1, 1},
		{0xffffffff, 0xdeadbeef}, // multiply wraps mod 2^32
		{0x12345678, 0x9abcdef0},
		{0x01000193, 0x01000193},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		want := uint32(uint64(a)*0x01000193) ^ b
		if got := fnv(a, b); got != want {
			t.Errorf("fnv(%#x, %#x) = %#x, want %#x", a, b, got, want)
		}
	}
}

func TestSeedHashChain(t *testing.T) {
	zero := make([]byte, SeedBytes)

	if got := SeedHash(0, Ethash); !bytes.Equal(got, zero) {
		t.Fatalf("ethash epoch 0 seed = %x, want all zeroes", got)
	}
	if got, want := SeedHash(1, Ethash), keccak256(zero); !bytes.Equal(got, want) {
		t.Fatalf("ethash epoch 1 seed = %x, want %x", got, want)
	}
	if got, want := SeedHash(1, Etchash), keccak256(keccak256(zero)); !bytes.Equal(got, want) {
		t.Fatalf("etchash epoch 1 seed = %x, want %x", got, want)
	}
	// Ubqhash keeps the classic iteration count.
	if got, want := SeedHash(7, Ubqhash), SeedHash(7, Ethash); !bytes.Equal(got, want) {
		t.Fatalf("ubqhash epoch 7 seed = %x, want %x", got, want)
	}
	// The chain is cumulative: seed(n+1) = keccak256(seed(n)).
	if got, want := SeedHash(5, Ethash), keccak256(SeedHash(4, Ethash)); !bytes.Equal(got, want) {
		t.Fatalf("ethash epoch 5 seed = %x, want %x", got, want)
	}
}

func TestMakeCacheDeterminism(t *testing.T) {
	seed := SeedHash(3, Ethash)
	const size = 17 * HashBytes

	one := make([]byte, size)
	two := make([]byte, size)
	MakeCache(one, seed, Ethash)
	MakeCache(two, seed, Ethash)
	if !bytes.Equal(one, two) {
		t.Fatal("repeated cache builds differ")
	}

	ubq := make([]byte, size)
	MakeCache(ubq, seed, Ubqhash)
	if bytes.Equal(one, ubq) {
		t.Fatal("ubqhash cache should differ from the keccak cache")
	}
	etc := make([]byte, size)
	MakeCache(etc, seed, Etchash)
	if !bytes.Equal(one, etc) {
		t.Fatal("etchash shares the keccak cache construction")
	}
}

// The synthetic reference vector: one-line cache from an all-zero seed,
// 589824 DAG lines.
func TestHashimotoSyntheticVector(t *testing.T) {
	var (
		header     = hexBytes(t, "0000000000000000000000000000000000000000000000000000000000001234")
		nonce      = uint64(0x303)
		wantDigest = hexBytes(t, "5b05ca86b8602a37d67023dd7ebdbb8b8396e0ffbd1a0b83464ed67e1a9f0c36")
		wantResult = hexBytes(t, "10ffef979047b8d63d39135c6bf812047ffa6bfaf01dfeb33bc1dd2a19d970a9")
	)
	digest, result := HashimotoLight(syntheticCache(), 589824, header, nonce)
	if !bytes.Equal(digest, wantDigest) {
		t.Errorf("digest = %x, want %x", digest, wantDigest)
	}
	if !bytes.Equal(result, wantResult) {
		t.Errorf("result = %x, want %x", result, wantResult)
	}
}

// The ethermine job from epoch 183, with the pool difficulty of 4 Ghashes.
func TestHashimotoEpoch183Vector(t *testing.T) {
	if testing.Short() {
		t.Skip("building a real epoch cache takes a while")
	}
	var (
		epoch      = uint64(183)
		header     = hexBytes(t, "892a2e92b8a050dff196e1a19efcb2a903655584913e719435c0ad2b53cfa7bd")
		nonce      = uint64(0x46c089bc0ce5b456)
		wantDigest = hexBytes(t, "2c2940d14f38c882f19e9a7e4577a5921cf235fc62dd705d2f328de94344d5fb")
		wantResult = hexBytes(t, "00000000b4c2c97e7bbbc5cafd7abf0782a0dc5e7d4bcac73385515a02be3547")
	)
	cache := make([]byte, CacheSize(epoch))
	MakeCache(cache, SeedHash(epoch, Ethash), Ethash)

	digest, result := HashimotoLight(cache, uint32(DatasetLines(epoch)), header, nonce)
	if !bytes.Equal(digest, wantDigest) {
		t.Errorf("digest = %x, want %x", digest, wantDigest)
	}
	if !bytes.Equal(result, wantResult) {
		t.Errorf("result = %x, want %x", result, wantResult)
	}

	target, err := Target([4]uint64{4_000_000_000, 0, 0, 0})
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	if !BelowTarget(result, target[:]) {
		t.Errorf("result %x should be below the 4 Ghash target %x", result, target)
	}
}

func TestDatasetRangeComposition(t *testing.T) {
	cache := syntheticCache()
	const total = 64

	whole := make([]byte, total*MixBytes)
	DatasetRange(whole, 0, total, cache)

	parts := make([]byte, total*MixBytes)
	for _, span := range [][2]uint32{{0, 10}, {10, 15}, {25, 39}} {
		start, lines := span[0], span[1]
		DatasetRange(parts[uint64(start)*MixBytes:], start, lines, cache)
	}
	if !bytes.Equal(whole, parts) {
		t.Fatal("partitioned dataset ranges disagree with the whole build")
	}

	// Each 128-byte line is exactly its two dataset items.
	for line := uint32(0); line < 4; line++ {
		lo := DatasetItem(cache, 2*line)
		hi := DatasetItem(cache, 2*line+1)
		at := whole[uint64(line)*MixBytes:]
		if !bytes.Equal(at[:HashBytes], lo) || !bytes.Equal(at[HashBytes:MixBytes], hi) {
			t.Fatalf("line %d does not match items %d and %d", line, 2*line, 2*line+1)
		}
	}
}

// All dataset providers must agree on every (header, nonce) pair.
func TestHashimotoProvidersAgree(t *testing.T) {
	cache := syntheticCache()
	const fullLines = 512

	dataset := make([]byte, fullLines*MixBytes)
	Dataset(dataset, fullLines, cache)

	path := filepath.Join(t.TempDir(), "dag")
	if err := WriteDAGFile(path, dataset); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	mapped, err := OpenMappedDAG(path)
	if err != nil {
		t.Fatalf("map dataset: %v", err)
	}
	defer mapped.Close()
	if err := mapped.Require(fullLines); err != nil {
		t.Fatalf("mapped size check: %v", err)
	}

	shardBase := filepath.Join(t.TempDir(), "dag-sharded")
	if err := generateDatasetFiles(cache, fullLines, shardBase, 3); err != nil {
		t.Fatalf("generate sharded dataset: %v", err)
	}
	handle, err := OpenDAGFile(shardBase, os.O_RDONLY, 0, fullLines)
	if err != nil {
		t.Fatalf("open sharded dataset: %v", err)
	}
	defer handle.Close()

	for nonce := uint64(0); nonce < 8; nonce++ {
		header := keccak256([]byte(fmt.Sprintf("header-%d", nonce)))

		fullDigest, fullResult := HashimotoFull(dataset, fullLines, header, nonce)
		lightDigest, lightResult := HashimotoLight(cache, fullLines, header, nonce)
		if !bytes.Equal(fullDigest, lightDigest) || !bytes.Equal(fullResult, lightResult) {
			t.Fatalf("nonce %d: light (%x, %x) != full (%x, %x)", nonce, lightDigest, lightResult, fullDigest, fullResult)
		}
		mapDigest, mapResult := HashimotoMapped(mapped, header, nonce)
		if !bytes.Equal(mapDigest, fullDigest) || !bytes.Equal(mapResult, fullResult) {
			t.Fatalf("nonce %d: mapped provider disagrees", nonce)
		}
		fileDigest, fileResult, err := HashimotoFile(handle, header, nonce)
		if err != nil {
			t.Fatalf("nonce %d: file provider: %v", nonce, err)
		}
		if !bytes.Equal(fileDigest, fullDigest) || !bytes.Equal(fileResult, fullResult) {
			t.Fatalf("nonce %d: file provider disagrees", nonce)
		}
	}
}

func TestHashimotoDeterminism(t *testing.T) {
	cache := syntheticCache()
	header := keccak256([]byte("determinism"))

	d1, r1 := HashimotoLight(cache, 1021, header, 42)
	d2, r2 := HashimotoLight(cache, 1021, header, 42)
	if !bytes.Equal(d1, d2) || !bytes.Equal(r1, r2) {
		t.Fatal("repeated hashimoto evaluations differ")
	}
}
