// proofwritectl is the control utility for proofwrited.
//
// It reads the daemon's persisted state directly, so it works whether or
// not the daemon is running:
//
//	proofwritectl status
//	proofwritectl history
//	proofwritectl export <document> [output.json]
//	proofwritectl verify <package.json> <document> -token HV-XXXXXXXX
//	proofwritectl token
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/willchan-117/human-verifier/internal/config"
	"github.com/willchan-117/human-verifier/internal/document"
	"github.com/willchan-117/human-verifier/internal/report"
	"github.com/willchan-117/human-verifier/internal/session"
	"github.com/willchan-117/human-verifier/internal/store"
	"github.com/willchan-117/human-verifier/internal/verifier"
)

var (
	configPath = flag.String("config", "", "path to config file")
	tokenFlag  = flag.String("token", "", "verification token for the verify command")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	switch cmd := flag.Arg(0); cmd {
	case "status":
		err = cmdStatus(cfg)
	case "history":
		err = cmdHistory(cfg)
	case "export":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: proofwritectl export <document> [output.json]")
			os.Exit(1)
		}
		out := "verification-package.json"
		if flag.NArg() >= 3 {
			out = flag.Arg(2)
		}
		err = cmdExport(cfg, flag.Arg(1), out)
	case "verify":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "Usage: proofwritectl -token HV-XXXXXXXX verify <package.json> <document>")
			os.Exit(1)
		}
		err = cmdVerify(flag.Arg(1), flag.Arg(2), *tokenFlag)
	case "token":
		err = cmdToken(cfg)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `proofwritectl - Control utility for proofwrited

Usage: proofwritectl [options] <command> [args]

Commands:
    status                          Show archive summary and standing token
    history                         List archived sessions
    export <document> [out.json]    Export a verification package
    verify <package> <document>     Verify a package locally (needs -token)
    token                           Show the standing verification token

Options:`)
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "proofwritectl:", err)
	os.Exit(1)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultPath()
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return config.Load(path)
}

func openArchive(cfg *config.Config) (*session.Archive, error) {
	var backends []store.Store
	if cfg.Storage.Type == "sqlite" {
		if db, err := store.OpenSQLite(cfg.Storage.Path, cfg.Storage.BusyTimeout()); err == nil {
			backends = append(backends, db)
		}
	}
	backends = append(backends, store.NewFile(cfg.Storage.FallbackPath))
	return store.NewChain(backends...).LoadArchive()
}

func cmdStatus(cfg *config.Config) error {
	archive, err := openArchive(cfg)
	if err != nil {
		if errors.Is(err, store.ErrEmpty) {
			fmt.Println("No sessions recorded yet.")
			return nil
		}
		return err
	}

	lp, ss, sus := archive.FlagCounts()
	fmt.Printf("Sessions:          %d\n", archive.Len())
	fmt.Printf("Active time:       %s\n", report.FormatDuration(archive.TotalActiveTime()))
	fmt.Printf("Characters typed:  %d\n", archive.TotalCharactersTyped())
	fmt.Printf("Flagged sessions:  largePaste=%d speedSpike=%d sustainedSpeed=%d\n", lp, ss, sus)

	rec, err := store.NewTokenStore(cfg.Storage.TokenPath).Load()
	switch {
	case err == nil:
		fmt.Printf("Standing token:    %s (issued %s)\n", rec.Token, rec.IssuedAt.Format(time.RFC3339))
	case errors.Is(err, store.ErrNoToken):
		fmt.Println("Standing token:    none")
	default:
		fmt.Printf("Standing token:    unreadable (%v)\n", err)
	}
	return nil
}

func cmdHistory(cfg *config.Config) error {
	archive, err := openArchive(cfg)
	if err != nil {
		if errors.Is(err, store.ErrEmpty) {
			fmt.Println("No sessions recorded yet.")
			return nil
		}
		return err
	}

	for i, s := range archive.Sessions {
		flagged := ""
		if s.Flags.Any() {
			flagged = " FLAGGED"
		}
		fmt.Printf("%3d  %s  %-12s  words %d->%d  score %d%s\n",
			i+1,
			s.StartTime.Local().Format("2006-01-02 15:04"),
			report.FormatDuration(s.EndTime.Sub(s.StartTime)),
			s.InitialWordCount, s.FinalWordCount,
			s.HumanScore, flagged)
	}
	return nil
}

func cmdExport(cfg *config.Config, docPath, outPath string) error {
	archive, err := openArchive(cfg)
	if err != nil {
		if errors.Is(err, store.ErrEmpty) {
			return errors.New("no ended sessions to export")
		}
		return err
	}

	docHash, _, err := document.HashFile(docPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: document hash unavailable: %v\n", err)
		docHash = ""
	}

	token, err := report.GenerateToken()
	if err != nil {
		return err
	}

	pkg, err := report.NewBuilder().Build(archive, token, docHash)
	if err != nil {
		return err
	}
	if err := pkg.WriteFile(outPath); err != nil {
		return err
	}

	tokens := store.NewTokenStore(cfg.Storage.TokenPath)
	if err := tokens.Save(store.TokenRecord{Token: token, DocumentHash: docHash, IssuedAt: time.Now()}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: token not persisted: %v\n", err)
	}

	fmt.Printf("Exported %d session(s) to %s\n", archive.Len(), outPath)
	fmt.Printf("Verification token: %s\n", token)
	fmt.Printf("Report hash:        %s\n", pkg.Hash)
	return nil
}

func cmdVerify(pkgPath, docPath, token string) error {
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return err
	}

	docHash, _, err := document.HashFile(docPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: document hash unavailable: %v\n", err)
		docHash = ""
	}

	v, err := verifier.New()
	if err != nil {
		return err
	}
	res, err := v.Verify(verifier.Request{
		Package:      json.RawMessage(data),
		Token:        token,
		DocumentHash: docHash,
	})
	if err != nil {
		return err
	}

	fmt.Println(res.Message)
	for _, d := range res.Details {
		fmt.Println(" ", d)
	}
	if !res.Success {
		os.Exit(1)
	}
	return nil
}

func cmdToken(cfg *config.Config) error {
	rec, err := store.NewTokenStore(cfg.Storage.TokenPath).Load()
	if err != nil {
		if errors.Is(err, store.ErrNoToken) {
			fmt.Println("No standing verification token.")
			return nil
		}
		return err
	}
	fmt.Printf("Token:         %s\n", rec.Token)
	fmt.Printf("Issued:        %s\n", rec.IssuedAt.Format(time.RFC3339))
	if rec.DocumentHash != "" {
		fmt.Printf("Document hash: %s\n", rec.DocumentHash)
	}
	return nil
}
