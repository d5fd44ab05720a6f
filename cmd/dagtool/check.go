package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/mineralt/dagverify/dag"
)

var checkCommand = &cli.Command{
	Name:      "check",
	Usage:     "verify a (header hash, nonce) pair for an epoch",
	ArgsUsage: "<epoch> <header-hash> <nonce>",
	Description: `Runs Hashimoto for the given raw epoch, in light mode by default or
against a previously generated single-file DAG with --dag. With --difficulty
the result is additionally compared against the derived target; a result at
or above the target exits nonzero.`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "dag", Usage: "verify against this DAG file instead of light mode"},
		&cli.Uint64Flag{Name: "difficulty", Usage: "compare the result against the target for this difficulty"},
		&cli.Uint64Flag{Name: "cache-lines", Usage: "override the cache size (in 64-byte lines)"},
		&cli.Uint64Flag{Name: "full-lines", Usage: "override the dataset size (in 128-byte lines)"},
	},
	Action: runCheck,
}

func runCheck(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return fmt.Errorf("expected <epoch> <header-hash> <nonce> arguments")
	}
	epoch, err := parseUint(ctx.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid epoch: %w", err)
	}
	headerHash, err := decodeHeaderHash(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	nonce, err := parseNonce(ctx.Args().Get(2))
	if err != nil {
		return err
	}
	algo, effective := resolveAlgorithm(ctx, epoch)

	fullLines := uint32(dag.DatasetLines(effective))
	if ctx.IsSet("full-lines") {
		fullLines = uint32(ctx.Uint64("full-lines"))
	}
	if fullLines == 0 {
		return fmt.Errorf("dataset line count must be nonzero")
	}

	var (
		digest []byte
		result []byte
	)
	if path := ctx.String("dag"); path != "" {
		mapped, err := dag.OpenMappedDAG(path)
		if err != nil {
			return err
		}
		defer mapped.Close()
		if err := mapped.Require(fullLines); err != nil {
			return err
		}
		log.Info("Loaded DAG dataset", "path", path, "lines", mapped.FullLines())
		digest, result = dag.HashimotoMapped(mapped, headerHash, nonce)
	} else if ctx.IsSet("cache-lines") || ctx.IsSet("full-lines") {
		// Overridden parameters bypass the engine's persisted caches.
		cacheSize := dag.CacheSize(effective)
		if ctx.IsSet("cache-lines") {
			if ctx.Uint64("cache-lines") == 0 {
				return fmt.Errorf("cache line count must be nonzero")
			}
			cacheSize = ctx.Uint64("cache-lines") * dag.HashBytes
		}
		cache := make([]byte, cacheSize)
		dag.MakeCache(cache, dag.SeedHash(effective, algo), algo)
		digest, result = dag.HashimotoLight(cache, fullLines, headerHash, nonce)
	} else {
		digest, result = newEngine(ctx).VerifyLight(algo, effective, headerHash, nonce)
	}

	fmt.Printf("cmix %x\n", digest)
	fmt.Printf("res %x\n", result)

	if difficulty := ctx.Uint64("difficulty"); difficulty != 0 {
		target, err := dag.Target([4]uint64{difficulty, 0, 0, 0})
		if err != nil {
			return err
		}
		if !dag.BelowTarget(result, target[:]) {
			return cli.Exit(fmt.Sprintf("above target %x", target), 1)
		}
		fmt.Println("Below target")
	}
	return nil
}
