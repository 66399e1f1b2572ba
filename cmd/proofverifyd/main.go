// proofverifyd is the standalone verification service.
//
// It checks exported verification packages without any access to the
// exporting machine's state, making it suitable for third-party audits
// and automated pipelines:
//
//	proofverifyd -addr :8085
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/willchan-117/human-verifier/internal/config"
	"github.com/willchan-117/human-verifier/internal/logging"
	"github.com/willchan-117/human-verifier/internal/server"
	"github.com/willchan-117/human-verifier/internal/verifier"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("proofverifyd", version)
		return
	}

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintln(os.Stderr, "proofverifyd:", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return err
	}
	log, err := logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "proofverifyd",
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	v, err := verifier.New()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting", "version", version, "addr", cfg.Server.Addr)
	return server.New(cfg.Server, v, log).Run(ctx)
}
