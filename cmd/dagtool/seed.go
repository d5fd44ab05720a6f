package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mineralt/dagverify/dag"
)

var seedCommand = &cli.Command{
	Name:      "seed",
	Usage:     "print the seed hash for an epoch",
	ArgsUsage: "<epoch>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("expected <epoch> argument")
		}
		epoch, err := parseUint(ctx.Args().Get(0))
		if err != nil {
			return fmt.Errorf("invalid epoch: %w", err)
		}
		algo, effective := resolveAlgorithm(ctx, epoch)
		fmt.Printf("%x\n", dag.SeedHash(effective, algo))
		return nil
	},
}
