// Command vaultstore hosts a content-addressed store rooted at a local directory.
//
// Usage:
//
//	vaultstore [flags] <command> [args]
//
// Commands:
//
//	put [-user U] [-level L] FILE    store FILE and print its id
//	get [-user U] ID                 write the content of ID to stdout
//	update [-user U] ID FILE         replace the content of ID, retrying lock contention
//	stat ID                          print the metadata record of ID
//	versions ID                      print the version history of ID
//	recover                          re-create records for orphaned content
//	shell                            interactive session over stdin
//
// Every invocation loads <root>/metadata.json on start and writes it back on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/internal/config"
	"github.com/objectfs/vaultstore/internal/coordinator"
	"github.com/objectfs/vaultstore/pkg/utils"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "vaultstore: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("vaultstore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	root := fs.String("root", "", "Store root directory (overrides config)")
	logLevel := fs.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: vaultstore [flags] <put|get|update|stat|versions|recover|shell> [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no command given")
	}

	cfg, err := loadConfig(*configPath, *root, *logLevel, *metricsAddr)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := coordinator.New(ctx, coordinator.Options{Config: cfg, Logger: logger.Named("coordinator")})
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Shutdown(context.Background())
		return err
	}

	a := &app{
		coordinator: c,
		stdin:       stdin,
		stdout:      stdout,
		logger:      logger,
	}
	cmdErr := a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])

	if err := c.Shutdown(context.Background()); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		if cmdErr == nil {
			cmdErr = err
		}
	}
	return cmdErr
}

// loadConfig layers defaults, the optional file, the environment and finally flags.
func loadConfig(path, root, logLevel, metricsAddr string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if root != "" {
		cfg.Store.Root = root
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Monitoring.MetricsAddr = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
