package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
	"github.com/banshee-data/soccer-diffusion/internal/version"
)

var (
	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logFormat = flag.String("log-format", "console", "Log format: console or json")
)

// command runs one subcommand with its own flag set.
type command func(ctx context.Context, args []string, out io.Writer) error

var commands = map[string]command{
	"migrate": runMigrate,
	"import":  runImport,
	"index":   runIndex,
	"sample":  runSample,
	"report":  runReport,
	"plot":    runPlot,
	"serve":   runServe,
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	logger, err := monitoring.NewLogger(*logLevel, *logFormat, "soccer-dataset")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	monitoring.SetLogger(logger)

	name := flag.Arg(0)
	switch name {
	case "version":
		fmt.Println(version.String("soccer-dataset"))
		return
	case "help":
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd(ctx, flag.Args()[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("command failed", zap.String("command", name), zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`soccer-dataset - build and inspect the robot soccer training dataset

Usage: soccer-dataset [--log-level L] [--log-format F] <command> [options]

Commands:
  migrate    Apply or inspect schema migrations (up, down, version, force N)
  import     Import raw recordings into the dataset
  index      Build the sample index and show samples per recording
  sample     Extract one sample, or stream batches through the loader
  report     Write an XLSX report of every recording
  plot       Plot one joint of a sample as a PNG
  serve      Serve the debug endpoints (SQL browser, backup, recording charts)
  version    Show the build version
  help       Show this help message

Every command takes --config <file> (.json, .yaml or .yml). Without it the
defaults apply: SQLite at soccer_diffusion.db, 100 Hz, future length 10,
stride 10.

Examples:
  soccer-dataset migrate --config dataset.yaml up
  soccer-dataset import --config dataset.yaml --team "Hamburg Bit-Bots" --robot-type Wolfgang-OP rec1.jsonl.gz rec2.jsonl.gz
  soccer-dataset sample --config dataset.yaml --batches 3
  soccer-dataset plot --config dataset.yaml --index 42 --joint LKnee --out sample.png`)
}
