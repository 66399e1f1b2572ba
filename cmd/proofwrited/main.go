// proofwrited is the authorship monitoring daemon.
//
// It polls a document file, tracks editing sessions, flags suspicious
// authorship patterns and persists the session archive for later export
// and verification:
//
//	proofwrited -doc draft.txt
//	proofwrited -config proofwrite.toml -doc draft.txt
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/willchan-117/human-verifier/internal/config"
	"github.com/willchan-117/human-verifier/internal/document"
	"github.com/willchan-117/human-verifier/internal/logging"
	"github.com/willchan-117/human-verifier/internal/monitor"
	"github.com/willchan-117/human-verifier/internal/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	docPath := flag.String("doc", "", "path to the monitored document")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("proofwrited", version)
		return
	}
	if *docPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: proofwrited [-config file] -doc <document>")
		os.Exit(1)
	}

	if err := run(*configPath, *docPath); err != nil {
		fmt.Fprintln(os.Stderr, "proofwrited:", err)
		os.Exit(1)
	}
}

func run(configPath, docPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, "proofwrited")
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	backends, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	tokens := store.NewTokenStore(cfg.Storage.TokenPath)
	reader := document.NewFileReader(docPath)

	m, err := monitor.New(cfg, reader, backends, tokens, log)
	if err != nil {
		return err
	}

	if cfg.Monitor.WatchDocument {
		if w, err := document.NewWatcher(docPath); err != nil {
			log.Warn("document watcher unavailable", "error", err)
		} else {
			m.SetWatcher(w)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting", "version", version, "document", docPath)
	if err := m.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	m.Wait()
	return nil
}

// loadConfig loads the named config file, or the default location when
// it exists, or plain defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultPath()
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, component string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: component,
	})
}

// openStores composes the archive backends. SQLite failures fall through
// to the JSON file so monitoring never dies on storage trouble.
func openStores(cfg *config.Config) (store.Store, error) {
	var backends []store.Store
	if cfg.Storage.Type == "sqlite" {
		db, err := store.OpenSQLite(cfg.Storage.Path, cfg.Storage.BusyTimeout())
		if err != nil {
			logging.Warn("sqlite unavailable, using file fallback", "error", err)
		} else {
			backends = append(backends, db)
		}
	}
	backends = append(backends, store.NewFile(cfg.Storage.FallbackPath))
	return store.NewChain(backends...), nil
}
