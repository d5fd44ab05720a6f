// Package dag implements the Ethash family of memory-hard proof-of-work
// primitives: epoch parameters, seed/cache/dataset derivation, the Hashimoto
// mixing loop, difficulty-to-target arithmetic and the split-file DAG layout.
//
// The package is a verification engine, not a miner: the algorithmic functions
// are pure, deterministic computations over caller-owned buffers, while file
// I/O and cache ownership live in DAGFile, MappedDAG and Engine. Algorithm variants
// (ethash, etchash per ECIP-1099, ubqhash per UIP-1) are selected by an
// explicit Algorithm parameter threaded through the builders.
package dag

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	datasetBytesInit   = 1 << 30 // bytes in the dataset at genesis
	datasetBytesGrowth = 1 << 23 // dataset growth per epoch
	cacheBytesInit     = 1 << 24 // bytes in the cache at genesis
	cacheBytesGrowth   = 1 << 17 // cache growth per epoch
	epochLength        = 30000   // blocks per ethash epoch
	datasetParents     = 256     // parents of each dataset item
	cacheRounds        = 3       // randmemohash passes over the cache
	loopAccesses       = 64      // DAG accesses in the hashimoto loop
)

// Widths of the fixed-size values flowing through the algorithms.
const (
	SeedBytes = 32        // seed hash
	HashBytes = 64        // one cache line / dataset item
	MixBytes  = 128       // one DAG line, the hashimoto mix width
	hashWords = HashBytes / 4
	mixWords  = MixBytes / 4
)

// Algorithm selects the proof-of-work variant. The variants share the dataset
// item derivation and the hashimoto loop; they differ in the cache line hash
// and in how block numbers map to epochs and seed rounds.
type Algorithm int

const (
	Ethash  Algorithm = iota // classic ethash
	Etchash                  // ETChash, ECIP-1099
	Ubqhash                  // UBQhash, UIP-1
)

func (a Algorithm) String() string {
	switch a {
	case Ethash:
		return "ethash"
	case Etchash:
		return "etchash"
	case Ubqhash:
		return "ubqhash"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// AlgorithmByName resolves the lower-case algorithm name used on command
// lines and in cache file names.
func AlgorithmByName(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "ethash":
		return Ethash, nil
	case "etchash":
		return Etchash, nil
	case "ubqhash":
		return Ubqhash, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q", name)
	}
}

// Epoch maps a block number to its epoch. Etchash doubles the epoch length;
// ethash and ubqhash share the classic 30000-block epochs.
func Epoch(block uint64, algo Algorithm) uint64 {
	if algo == Etchash {
		return block / epochLength / 2
	}
	return block / epochLength
}

// CacheSize returns the byte size of the verification cache for the given
// epoch. The size grows linearly per epoch and is then lowered until the
// cache holds a prime number of 64-byte lines.
func CacheSize(epoch uint64) uint64 {
	size := cacheBytesInit + cacheBytesGrowth*epoch - HashBytes
	for !new(big.Int).SetUint64(size / HashBytes).ProbablyPrime(1) {
		size -= 2 * HashBytes
	}
	return size
}

// DatasetLines returns the number of 128-byte lines in the full dataset for
// the given epoch; the count is always prime.
func DatasetLines(epoch uint64) uint64 {
	lines := datasetBytesInit/MixBytes + datasetBytesGrowth/MixBytes*epoch - 1
	for !new(big.Int).SetUint64(lines).ProbablyPrime(1) {
		lines -= 2
	}
	return lines
}

// DatasetSize returns the byte size of the full dataset for the given epoch.
func DatasetSize(epoch uint64) uint64 {
	return DatasetLines(epoch) * MixBytes
}
