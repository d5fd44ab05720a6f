package dag

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	lru "github.com/hashicorp/golang-lru"
)

const cacheEnvVar = "DAGVERIFY_CACHE_DIR"

var errCacheDisabled = errors.New("dag: cache persistence disabled")

var (
	cacheBuildTimer   = metrics.NewRegisteredTimer("dag/cache/build", nil)
	cacheDiskHitMeter = metrics.NewRegisteredMeter("dag/cache/disk/hits", nil)
	datasetBuildTimer = metrics.NewRegisteredTimer("dag/dataset/build", nil)
)

// Config tunes the verification engine. Zero values resolve to defaults.
type Config struct {
	// CacheDir is where built verification caches are persisted. Empty
	// selects the user cache directory (or the DAGVERIFY_CACHE_DIR
	// environment override); "off" disables persistence.
	CacheDir string

	// CachesInMem bounds the number of verification caches retained in
	// memory across epochs and algorithms.
	CachesInMem int

	// Workers bounds the goroutines used for full dataset generation; zero
	// means one per CPU.
	Workers int
}

func defaultCacheDir() string {
	if custom := os.Getenv(cacheEnvVar); custom != "" {
		return custom
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dagverify")
}

func resolveConfig(cfg Config) Config {
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir()
	} else if cfg.CacheDir == "off" {
		cfg.CacheDir = ""
	}
	if cfg.CachesInMem <= 0 {
		cfg.CachesInMem = 2
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return cfg
}

type cacheKey struct {
	algo  Algorithm
	epoch uint64
}

// Engine owns verification caches across epochs and algorithms: an LRU of
// built caches in memory, optional persistence on disk, and a background
// prefetch of the next epoch to smooth over epoch transitions.
type Engine struct {
	config Config

	mu          sync.Mutex
	caches      *lru.Cache
	building    map[cacheKey]*sync.WaitGroup
	prefetching map[cacheKey]struct{}
}

// NewEngine creates a verification engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	cfg = resolveConfig(cfg)
	caches, err := lru.New(cfg.CachesInMem)
	if err != nil {
		panic(err)
	}
	return &Engine{
		config:      cfg,
		caches:      caches,
		building:    make(map[cacheKey]*sync.WaitGroup),
		prefetching: make(map[cacheKey]struct{}),
	}
}

// Cache returns the verification cache for the given algorithm and epoch,
// building (or loading) it on first use. Concurrent requests for the same
// epoch share one build.
func (e *Engine) Cache(algo Algorithm, epoch uint64) []byte {
	key := cacheKey{algo, epoch}
	for {
		e.mu.Lock()
		if data, ok := e.caches.Get(key); ok {
			e.mu.Unlock()
			return data.([]byte)
		}
		if wg := e.building[key]; wg != nil {
			e.mu.Unlock()
			wg.Wait()
			continue
		}
		wg := new(sync.WaitGroup)
		wg.Add(1)
		e.building[key] = wg
		e.mu.Unlock()

		data := e.obtainCache(algo, epoch)

		e.mu.Lock()
		e.caches.Add(key, data)
		delete(e.building, key)
		e.mu.Unlock()
		wg.Done()
		return data
	}
}

// obtainCache loads the cache from disk when possible and builds and
// persists it otherwise.
func (e *Engine) obtainCache(algo Algorithm, epoch uint64) []byte {
	size := CacheSize(epoch)

	loadStart := time.Now()
	if data, err := e.tryLoadCache(algo, epoch, size); err == nil {
		cacheDiskHitMeter.Mark(1)
		log.Info("Loaded DAG verification cache", "algorithm", algo, "epoch", epoch,
			"size", common.StorageSize(size), "elapsed", common.PrettyDuration(time.Since(loadStart)))
		return data
	} else if !errors.Is(err, errCacheDisabled) && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load DAG verification cache", "algorithm", algo, "epoch", epoch, "err", err)
	}

	log.Info("Building DAG verification cache", "algorithm", algo, "epoch", epoch, "size", common.StorageSize(size))
	buildStart := time.Now()
	data := make([]byte, size)
	MakeCache(data, SeedHash(epoch, algo), algo)
	cacheBuildTimer.UpdateSince(buildStart)
	log.Info("Generated DAG verification cache", "algorithm", algo, "epoch", epoch,
		"size", common.StorageSize(size), "elapsed", common.PrettyDuration(time.Since(buildStart)))

	if err := e.persistCache(algo, epoch, data); err != nil && !errors.Is(err, errCacheDisabled) {
		log.Warn("Failed to persist DAG verification cache", "algorithm", algo, "epoch", epoch, "err", err)
	}
	return data
}

func (e *Engine) cacheFilePath(algo Algorithm, epoch, size uint64) string {
	return filepath.Join(e.config.CacheDir, fmt.Sprintf("%s-%06d-%d.cache", algo, epoch, size))
}

func (e *Engine) tryLoadCache(algo Algorithm, epoch, size uint64) ([]byte, error) {
	if e.config.CacheDir == "" {
		return nil, errCacheDisabled
	}
	path := e.cacheFilePath(algo, epoch, size)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	if uint64(info.Size()) != size {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("cache size mismatch (%d != %d)", info.Size(), size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(file, data); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	return data, nil
}

func (e *Engine) persistCache(algo Algorithm, epoch uint64, data []byte) error {
	if e.config.CacheDir == "" {
		return errCacheDisabled
	}
	if err := os.MkdirAll(e.config.CacheDir, 0o755); err != nil {
		return err
	}
	path := e.cacheFilePath(algo, epoch, uint64(len(data)))

	tmp, err := os.CreateTemp(e.config.CacheDir, fmt.Sprintf("%s-%06d-*.tmp", algo, epoch))
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// prefetchCache builds the cache for the given epoch in the background if it
// is not already held or being prefetched.
func (e *Engine) prefetchCache(algo Algorithm, epoch uint64) {
	key := cacheKey{algo, epoch}
	e.mu.Lock()
	if _, ok := e.caches.Get(key); ok {
		e.mu.Unlock()
		return
	}
	if _, ok := e.prefetching[key]; ok {
		e.mu.Unlock()
		return
	}
	e.prefetching[key] = struct{}{}
	e.mu.Unlock()

	log.Debug("Prefetching DAG verification cache", "algorithm", algo, "epoch", epoch)
	go func() {
		e.Cache(algo, epoch)
		e.mu.Lock()
		delete(e.prefetching, key)
		e.mu.Unlock()
	}()
}

// VerifyLight evaluates one (header hash, nonce) pair against the epoch's
// dataset using the verification cache only, returning the mix digest and
// the pow result. The next epoch's cache is prefetched in the background.
func (e *Engine) VerifyLight(algo Algorithm, epoch uint64, headerHash []byte, nonce uint64) ([]byte, []byte) {
	cache := e.Cache(algo, epoch)
	e.prefetchCache(algo, epoch+1)
	return HashimotoLight(cache, uint32(DatasetLines(epoch)), headerHash, nonce)
}

// GenerateDataset materializes the full dataset of an epoch into the sharded
// DAG file layout rooted at base. Line ranges are generated in parallel
// across the configured workers; items are independent, so the split is
// arbitrary.
func (e *Engine) GenerateDataset(algo Algorithm, epoch uint64, base string) error {
	cache := e.Cache(algo, epoch)
	fullLines := uint32(DatasetLines(epoch))

	log.Info("Generating DAG dataset", "algorithm", algo, "epoch", epoch,
		"lines", fullLines, "size", common.StorageSize(uint64(fullLines)*MixBytes))
	start := time.Now()
	if err := generateDatasetFiles(cache, fullLines, base, e.config.Workers); err != nil {
		return err
	}
	datasetBuildTimer.UpdateSince(start)
	log.Info("Generated DAG dataset", "algorithm", algo, "epoch", epoch,
		"size", common.StorageSize(uint64(fullLines)*MixBytes), "elapsed", common.PrettyDuration(time.Since(start)))
	return nil
}

// generateDatasetFiles computes fullLines DAG lines from the cache and writes
// them into the sharded file layout rooted at base. Each worker owns a
// contiguous range of lines and streams them to the handle in bounded chunks.
func generateDatasetFiles(cache []byte, fullLines uint32, base string, workers int) error {
	handle, err := OpenDAGFile(base, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644, fullLines)
	if err != nil {
		return err
	}
	if workers < 1 {
		workers = 1
	}
	if uint32(workers) > fullLines {
		workers = int(fullLines)
	}
	const chunkLines = 4096
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	per := (fullLines + uint32(workers) - 1) / uint32(workers)
	for w := 0; w < workers; w++ {
		first := uint32(w) * per
		if first >= fullLines {
			break
		}
		limit := first + per
		if limit > fullLines {
			limit = fullLines
		}
		wg.Add(1)
		go func(first, limit uint32) {
			defer wg.Done()
			buf := make([]byte, chunkLines*MixBytes)
			for at := first; at < limit; at += chunkLines {
				n := uint32(chunkLines)
				if at+n > limit {
					n = limit - at
				}
				DatasetRange(buf[:uint64(n)*MixBytes], at, n, cache)
				if err := handle.WriteLines(buf[:uint64(n)*MixBytes], n, at); err != nil {
					errOnce.Do(func() { firstErr = err })
					return
				}
			}
		}(first, limit)
	}
	wg.Wait()
	if firstErr != nil {
		handle.Remove()
		return firstErr
	}
	return handle.Close()
}
