package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mineralt/dagverify/dag"
)

var mixCommand = &cli.Command{
	Name:      "mix",
	Usage:     "run one Hashimoto calculation",
	ArgsUsage: "<header-hash> <nonce>",
	Description: `Evaluates Hashimoto for a (header hash, nonce) pair using light mode.
Exactly one of --lines, --epoch or --block selects the dataset: --lines runs
the synthetic setup (one-line cache from an all-zero seed), the other two use
real epoch parameters.`,
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "lines", Usage: "synthetic mode: DAG line count over a one-line cache"},
		&cli.Uint64Flag{Name: "epoch", Usage: "use real parameters for the given raw epoch"},
		&cli.Uint64Flag{Name: "block", Usage: "use real parameters for the given block number"},
		&cli.StringFlag{Name: "pattern", Usage: "search nonces whose result starts with these hex bytes (comma separated)"},
		&cli.BoolFlag{Name: "reverse", Usage: "byte-reverse the header hash"},
		&cli.BoolFlag{Name: "trace", Usage: "print the DAG line index of every mixing round"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "suppress per-nonce output"},
	},
	Action: runMix,
}

func runMix(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected <header-hash> <nonce> arguments")
	}
	headerHash, err := decodeHeaderHash(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	if ctx.Bool("reverse") {
		reverseBytes(headerHash)
	}
	nonce, err := parseNonce(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	pattern, err := parsePattern(ctx.String("pattern"))
	if err != nil {
		return err
	}

	var (
		cache     []byte
		fullLines uint32
	)
	switch {
	case ctx.IsSet("lines"):
		// The synthetic setup used by hardware bring-up: a one-line cache
		// derived from an all-zero seed, with a caller-chosen line count.
		cache = make([]byte, dag.HashBytes)
		dag.MakeCache(cache, make([]byte, dag.SeedBytes), dag.Ethash)
		fullLines = uint32(ctx.Uint64("lines"))
	case ctx.IsSet("epoch"), ctx.IsSet("block"):
		epoch := ctx.Uint64("epoch")
		if ctx.IsSet("block") {
			epoch = dag.Epoch(ctx.Uint64("block"), dag.Ethash)
		}
		algo, effective := resolveAlgorithm(ctx, epoch)
		cache = newEngine(ctx).Cache(algo, effective)
		fullLines = uint32(dag.DatasetLines(effective))
	default:
		return fmt.Errorf("one of --lines, --epoch or --block is required")
	}
	if fullLines == 0 {
		return fmt.Errorf("dataset line count must be nonzero")
	}

	quiet := ctx.Bool("quiet")
	for {
		digest, result := mixOnce(ctx, cache, fullLines, headerHash, nonce)
		if !quiet {
			fmt.Printf("cmix %x\n", digest)
			fmt.Printf("res %x\n", result)
		}
		if pattern == nil {
			return nil
		}
		if matchesPattern(result, pattern) {
			fmt.Printf("0x%x\n", nonce)
			return nil
		}
		nonce++
	}
}

// mixOnce evaluates a single nonce in light mode, optionally tracing the DAG
// line index of every access.
func mixOnce(ctx *cli.Context, cache []byte, fullLines uint32, headerHash []byte, nonce uint64) ([]byte, []byte) {
	if !ctx.Bool("trace") {
		return dag.HashimotoLight(cache, fullLines, headerHash, nonce)
	}
	round := 0
	buf := make([]byte, dag.MixBytes)
	return dag.Hashimoto(headerHash, nonce, fullLines, func(line uint32) []byte {
		round++
		fmt.Printf("DA%-2d 0x%07x\n", round, line)
		dag.DatasetRange(buf, line, 1, cache)
		return buf
	})
}

// parsePattern decodes a comma-separated list of hex byte values, at most a
// full 32-byte result.
func parsePattern(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > dag.TargetBytes {
		return nil, fmt.Errorf("pattern length is <= %d bytes", dag.TargetBytes)
	}
	pattern := make([]byte, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("bad pattern value %q", part)
		}
		pattern = append(pattern, byte(v))
	}
	return pattern, nil
}

func matchesPattern(result, pattern []byte) bool {
	for i, b := range pattern {
		if result[i] != b {
			return false
		}
	}
	return true
}
