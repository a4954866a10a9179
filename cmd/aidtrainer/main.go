// Command aidtrainer runs image classifier training runs, either as a
// long-running service with an HTTP and WebSocket control surface or as a
// single run in the terminal.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/AIDTrainer/internal/config"
	"github.com/Strob0t/AIDTrainer/internal/logger"
)

const version = "0.1.0"

func main() {
	if err := runCLI(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func runCLI(args []string) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args)
	case "train":
		return runTrain(args)
	case "init-model":
		return runInitModel(args)
	case "inspect":
		return runInspect(args)
	case "migrate":
		return runMigrate(args)
	case "version":
		fmt.Println(version)
		return nil
	case "help", "-h", "--help":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: aidtrainer <command> [options]

Commands:
  serve        Run the training service (default)
  train        Train one run in the terminal
  init-model   Create untrained models for a run configuration
  inspect      Print the metadata workbook of a model
  migrate      Manage the event archive schema
  version      Print the version

Examples:
  aidtrainer serve -config aidtrainer.yaml
  aidtrainer train -run run.yaml -settings live.yaml
  aidtrainer init-model -run run.yaml
  aidtrainer inspect -model models/cells.model
  aidtrainer migrate -steps 1 down
`)
}

// setup loads the configuration and installs the default logger. Logs go to w.
func setup(configPath string, w io.Writer) (*config.Config, logger.Closer, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFrom(configPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, closer := logger.NewWithWriter(cfg.Logging, w)
	slog.SetDefault(log)
	return cfg, closer, nil
}
