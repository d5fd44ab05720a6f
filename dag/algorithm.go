package dag

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

const fnvPrime = 0x01000193

// fnv is the variant of FNV-1 used throughout ethash for data aggregation:
// a 32-bit multiply with wraparound, xored with the second operand.
func fnv(a, b uint32) uint32 {
	return a*fnvPrime ^ b
}

// hasher is a repetitive hasher allowing the same hash data structures to be
// reused between hash runs instead of requiring new ones to be created.
type hasher func(dest []byte, data []byte)

// makeHasher creates a repetitive hasher, allowing the same hash data
// structures to be reused between hash runs instead of requiring new ones to
// be created. The returned function is not thread safe.
func makeHasher(h hash.Hash) hasher {
	// sha3.state supports Read to get the sum, use it to avoid the overhead
	// of Sum. Read alters the state but we reset the hash before every
	// operation.
	type readerHash interface {
		hash.Hash
		Read([]byte) (int, error)
	}
	rh, ok := h.(readerHash)
	if !ok {
		panic("can't find Read method on hash")
	}
	outputLen := rh.Size()
	return func(dest []byte, data []byte) {
		rh.Reset()
		rh.Write(data)
		rh.Read(dest[:outputLen])
	}
}

// makeBlake2bHasher builds a repetitive BLAKE2b-512 hasher. The blake2b
// digest has no Read shortcut, so the sum is appended into dest instead.
func makeBlake2bHasher() hasher {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic(err)
	}
	return func(dest []byte, data []byte) {
		h.Reset()
		h.Write(data)
		h.Sum(dest[:0])
	}
}

// cacheHasher returns the 64-byte line hash used during cache construction.
// Ubqhash swaps Keccak-512 for BLAKE2b-512; the dataset derivation on top of
// the cache is Keccak-512 for every variant.
func (a Algorithm) cacheHasher() hasher {
	if a == Ubqhash {
		return makeBlake2bHasher()
	}
	return makeHasher(sha3.NewLegacyKeccak512())
}

// seedRounds returns the number of Keccak-256 iterations deriving the seed
// for an epoch. Etchash keeps iterating at the classic per-30000-block rate,
// so its halved epochs need twice the rounds.
func (a Algorithm) seedRounds(epoch uint64) uint64 {
	if a == Etchash {
		return 2 * epoch
	}
	return epoch
}

// SeedHash derives the 32-byte seed of an epoch by iterating Keccak-256 over
// an all-zero seed.
func SeedHash(epoch uint64, algo Algorithm) []byte {
	seed := make([]byte, SeedBytes)
	keccak256 := makeHasher(sha3.NewLegacyKeccak256())
	for i := uint64(0); i < algo.seedRounds(epoch); i++ {
		keccak256(seed, seed)
	}
	return seed
}

// MakeCache fills dest with the verification cache derived from seed. The
// destination length selects the cache size and must be a multiple of 64
// holding at least one line; callers obtain it from CacheSize.
//
// The cache is first produced sequentially, each line the hash of the
// previous one, then strengthened with a low-round version of randmemohash.
func MakeCache(dest []byte, seed []byte, algo Algorithm) {
	n := len(dest) / HashBytes
	lineHash := algo.cacheHasher()

	lineHash(dest[:HashBytes], seed)
	for i := 1; i < n; i++ {
		lineHash(dest[i*HashBytes:(i+1)*HashBytes], dest[(i-1)*HashBytes:i*HashBytes])
	}

	tmp := make([]byte, HashBytes)
	for round := 0; round < cacheRounds; round++ {
		for j := 0; j < n; j++ {
			line := dest[j*HashBytes : (j+1)*HashBytes]
			// The leading word is read before the line is replaced; v may
			// equal j, in which case the xor self-cancels before hashing.
			prev := (j + n - 1) % n
			v := int(binary.LittleEndian.Uint32(line)) % n
			for k := 0; k < HashBytes; k++ {
				tmp[k] = dest[prev*HashBytes+k] ^ dest[v*HashBytes+k]
			}
			lineHash(line, tmp)
		}
	}
}

// generateDatasetItem derives the 64-byte dataset item at the given index by
// aggregating 256 pseudo-randomly selected cache lines. The dataset side of
// the algorithm family always uses Keccak-512, whatever hash built the cache.
func generateDatasetItem(cache []byte, index uint32, keccak512 hasher) []byte {
	n := uint32(len(cache) / HashBytes)

	mix := make([]byte, HashBytes)
	copy(mix, cache[(index%n)*HashBytes:])
	binary.LittleEndian.PutUint32(mix, binary.LittleEndian.Uint32(mix)^index)
	keccak512(mix, mix)

	for j := uint32(0); j < datasetParents; j++ {
		parent := fnv(index^j, binary.LittleEndian.Uint32(mix[4*(j%hashWords):])) % n
		line := cache[parent*HashBytes:]
		for k := 0; k < HashBytes; k += 4 {
			word := fnv(binary.LittleEndian.Uint32(mix[k:]), binary.LittleEndian.Uint32(line[k:]))
			binary.LittleEndian.PutUint32(mix[k:], word)
		}
	}
	keccak512(mix, mix)
	return mix
}

// DatasetItem computes a single 64-byte dataset item from the cache.
func DatasetItem(cache []byte, index uint32) []byte {
	return generateDatasetItem(cache, index, makeHasher(sha3.NewLegacyKeccak512()))
}

// DatasetRange materializes `lines` consecutive 128-byte DAG lines starting
// at line index start, packing dataset items 2*start through 2*(start+lines)-1
// into dest from its base. dest must hold lines*128 bytes.
func DatasetRange(dest []byte, start, lines uint32, cache []byte) {
	keccak512 := makeHasher(sha3.NewLegacyKeccak512())
	for i := uint32(0); i < 2*lines; i++ {
		item := generateDatasetItem(cache, 2*start+i, keccak512)
		copy(dest[uint64(i)*HashBytes:], item)
	}
}

// Dataset materializes the complete dataset of fullLines 128-byte lines into
// dest. Items are independent, so callers wanting parallelism can instead
// invoke DatasetRange over disjoint sub-ranges.
func Dataset(dest []byte, fullLines uint32, cache []byte) {
	DatasetRange(dest, 0, fullLines, cache)
}

// Hashimoto aggregates data from the full dataset in order to produce the
// mix digest and final pow value for a particular header hash and nonce. The
// lookup callback resolves a DAG line index to its 128 bytes and defines the
// dataset provider; the returned slice is only read before the next lookup
// call. The convenience wrappers below cover the common providers.
func Hashimoto(headerHash []byte, nonce uint64, fullLines uint32, lookup func(line uint32) []byte) ([]byte, []byte) {
	keccak512 := makeHasher(sha3.NewLegacyKeccak512())

	// Combine header and nonce into the 64-byte replication seed.
	seed := make([]byte, 40)
	copy(seed, headerHash)
	binary.LittleEndian.PutUint64(seed[32:], nonce)

	s := make([]byte, HashBytes)
	keccak512(s, seed)

	mix := make([]byte, MixBytes)
	copy(mix, s)
	copy(mix[HashBytes:], s)

	// Mix in pseudo-randomly selected DAG lines.
	s0 := binary.LittleEndian.Uint32(s)
	for i := uint32(0); i < loopAccesses; i++ {
		v2 := binary.LittleEndian.Uint32(mix[4*(i%mixWords):])
		line := lookup(fnv(i^s0, v2) % fullLines)
		for j := 0; j < MixBytes; j += 4 {
			word := fnv(binary.LittleEndian.Uint32(mix[j:]), binary.LittleEndian.Uint32(line[j:]))
			binary.LittleEndian.PutUint32(mix[j:], word)
		}
	}

	// Compress the mix down to the 32-byte digest.
	digest := make([]byte, 32)
	for i := 0; i < mixWords; i += 4 {
		word := fnv(fnv(fnv(
			binary.LittleEndian.Uint32(mix[4*i:]),
			binary.LittleEndian.Uint32(mix[4*i+4:])),
			binary.LittleEndian.Uint32(mix[4*i+8:])),
			binary.LittleEndian.Uint32(mix[4*i+12:]))
		binary.LittleEndian.PutUint32(digest[i:], word)
	}

	keccak256 := makeHasher(sha3.NewLegacyKeccak256())
	result := make([]byte, 32)
	keccak256(result, append(s, digest...))
	return digest, result
}

// HashimotoFull aggregates data from the full in-memory dataset in order to
// produce the mix digest and final pow value for the given header hash and
// nonce. dag must hold fullLines 128-byte lines.
func HashimotoFull(dag []byte, fullLines uint32, headerHash []byte, nonce uint64) ([]byte, []byte) {
	return Hashimoto(headerHash, nonce, fullLines, func(line uint32) []byte {
		return dag[uint64(line)*MixBytes:]
	})
}

// HashimotoLight produces the same output as HashimotoFull using only the
// verification cache, recomputing each accessed DAG line on demand.
func HashimotoLight(cache []byte, fullLines uint32, headerHash []byte, nonce uint64) ([]byte, []byte) {
	keccak512 := makeHasher(sha3.NewLegacyKeccak512())
	buf := make([]byte, MixBytes)
	return Hashimoto(headerHash, nonce, fullLines, func(line uint32) []byte {
		copy(buf, generateDatasetItem(cache, 2*line, keccak512))
		copy(buf[HashBytes:], generateDatasetItem(cache, 2*line+1, keccak512))
		return buf
	})
}

// HashimotoFile evaluates hashimoto against a dataset persisted in a (possibly
// sharded) DAG file, reading one line per access.
func HashimotoFile(f *DAGFile, headerHash []byte, nonce uint64) ([]byte, []byte, error) {
	var readErr error
	buf := make([]byte, MixBytes)
	digest, result := Hashimoto(headerHash, nonce, f.FullLines(), func(line uint32) []byte {
		if readErr == nil {
			readErr = f.ReadLines(buf, 1, line)
		}
		return buf
	})
	if readErr != nil {
		return nil, nil, readErr
	}
	return digest, result, nil
}

// HashimotoMapped evaluates hashimoto against a memory-mapped dataset file.
func HashimotoMapped(m *MappedDAG, headerHash []byte, nonce uint64) ([]byte, []byte) {
	return Hashimoto(headerHash, nonce, m.FullLines(), m.Line)
}
