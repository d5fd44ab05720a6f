package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/mineralt/dagverify/dag"
)

var generateCommand = &cli.Command{
	Name:      "generate",
	Usage:     "build the full DAG dataset for an epoch and write it to disk",
	ArgsUsage: "<epoch>",
	Description: `Generates the complete dataset for the given raw epoch. By default the
dataset is written in the sharded layout (a second "<out>-1" file appears
once the per-file cap is exceeded); --single writes one raw file suitable
for the memory-mapped loader.`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Usage: "output base path (default dag-<algorithm>-<epoch>)"},
		&cli.BoolFlag{Name: "single", Usage: "write one unsharded file via an in-memory build"},
	},
	Action: runGenerate,
}

func runGenerate(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected <epoch> argument")
	}
	epoch, err := parseUint(ctx.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid epoch: %w", err)
	}
	algo, effective := resolveAlgorithm(ctx, epoch)

	out := ctx.String("out")
	if out == "" {
		out = fmt.Sprintf("dag-%s-%d", algo, effective)
	}
	engine := newEngine(ctx)

	if !ctx.Bool("single") {
		return engine.GenerateDataset(algo, effective, out)
	}

	// The unsharded path materializes the dataset in memory first, so it is
	// only reasonable for small epochs and synthetic parameter sets.
	cache := engine.Cache(algo, effective)
	fullLines := uint32(dag.DatasetLines(effective))
	size := uint64(fullLines) * dag.MixBytes
	log.Info("Generating DAG dataset", "algorithm", algo, "epoch", effective,
		"lines", fullLines, "size", common.StorageSize(size))
	data := make([]byte, size)
	dag.Dataset(data, fullLines, cache)
	if err := dag.WriteDAGFile(out, data); err != nil {
		return err
	}
	log.Info("Wrote DAG dataset", "path", out, "size", common.StorageSize(size))
	return nil
}
