// dagtool is the verification companion of the dag library: it evaluates
// single Hashimoto rounds, checks (header, nonce) pairs against targets and
// generates DAG datasets on disk.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mineralt/dagverify/dag"
)

var (
	coinFlag = &cli.StringFlag{
		Name:  "coin",
		Usage: "coin tag selecting the algorithm mapping (etc, ubq, anything else is ethash)",
		Value: "eth",
	}
	etchashEpochFlag = &cli.Uint64Flag{
		Name:  "etchash-epoch",
		Usage: "first epoch at which the etc mapping switches to etchash",
		Value: dag.GetEtchashEpoch(),
	}
	ubqhashEpochFlag = &cli.Uint64Flag{
		Name:  "ubqhash-epoch",
		Usage: "first epoch at which the ubq mapping switches to ubqhash",
		Value: dag.GetUbqhashEpoch(),
	}
	cacheDirFlag = &cli.StringFlag{
		Name:  "cache-dir",
		Usage: "directory for persisted verification caches (\"off\" disables)",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "write logs to a rotated file instead of stderr",
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log-json",
		Usage: "format logs as JSON",
	}
)

func main() {
	app := &cli.App{
		Name:  "dagtool",
		Usage: "ethash-family DAG verification tool",
		Flags: []cli.Flag{
			coinFlag, etchashEpochFlag, ubqhashEpochFlag, cacheDirFlag,
			verbosityFlag, logFileFlag, logJSONFlag,
		},
		Before: func(ctx *cli.Context) error {
			setupLogging(ctx)
			dag.SetEtchashEpoch(ctx.Uint64(etchashEpochFlag.Name))
			dag.SetUbqhashEpoch(ctx.Uint64(ubqhashEpochFlag.Name))
			_, _ = maxprocs.Set()
			return nil
		},
		Commands: []*cli.Command{
			mixCommand,
			checkCommand,
			generateCommand,
			seedCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) {
	var (
		output   = io.Writer(os.Stderr)
		useColor = isatty.IsTerminal(os.Stderr.Fd())
	)
	if file := ctx.String(logFileFlag.Name); file != "" {
		output = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // MiB
			MaxBackups: 3,
		}
		useColor = false
	}
	if ctx.Bool(logJSONFlag.Name) {
		log.SetDefault(log.NewLogger(log.JSONHandler(output)))
		return
	}
	level := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(output, level, useColor)))
}

// newEngine builds the shared verification engine from the global flags.
func newEngine(ctx *cli.Context) *dag.Engine {
	return dag.NewEngine(dag.Config{CacheDir: ctx.String(cacheDirFlag.Name)})
}

// resolveAlgorithm applies the coin mapping to a raw epoch number.
func resolveAlgorithm(ctx *cli.Context, epoch uint64) (dag.Algorithm, uint64) {
	return dag.MapCoin(strings.ToLower(ctx.String(coinFlag.Name)), epoch)
}

// decodeHeaderHash parses a 32-byte hex header hash, with or without the 0x
// prefix.
func decodeHeaderHash(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	hash, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid header hash %q: %w", s, err)
	}
	if len(hash) != 32 {
		return nil, fmt.Errorf("header hash must be 32 bytes, got %d", len(hash))
	}
	return hash, nil
}

// parseNonce parses a hexadecimal 64-bit nonce, with or without the 0x
// prefix.
func parseNonce(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	nonce, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid nonce %q: %w", s, err)
	}
	return nonce, nil
}

// parseUint parses a decimal or 0x-prefixed integer argument.
func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}

func reverseBytes(buf []byte) {
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
}
