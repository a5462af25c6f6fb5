package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"governance_council/internal/config"
	"governance_council/internal/domain"
	"governance_council/internal/export"
	sqlitestore "governance_council/internal/store/sqlite"
)

const usage = `usage: councilctl <command> [flags]

commands:
  export    write session audit bundles as JSON lines
  verify    check the audit hash chain
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "verify":
		err = runVerify(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

type commonFlags struct {
	configPath *string
	dbPath     *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "path to config.toml (default: ~/.council/config.toml)"),
		dbPath:     fs.String("db", "", "sqlite database path override"),
	}
}

func (f commonFlags) open(ctx context.Context) (*sqlitestore.Store, config.Config, error) {
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	dbPath := filepath.Clean(firstNonEmpty(*f.dbPath, cfg.Council.DBPath, "data/council.db"))
	if _, err := os.Stat(dbPath); err != nil {
		return nil, config.Config{}, fmt.Errorf("database %s: %w", dbPath, err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, config.Config{}, fmt.Errorf("migrate sqlite: %w", err)
	}
	return store, cfg, nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	common := addCommonFlags(fs)
	outDir := fs.String("out", "", "export directory override")
	sessionID := fs.String("session", "", "session id to export")
	all := fs.Bool("all", false, "export every completed session")
	since := fs.Duration("since", 0, "with -all, only sessions created within this window")
	_ = fs.Parse(args)

	if strings.TrimSpace(*sessionID) == "" && !*all {
		return fmt.Errorf("either -session or -all is required")
	}

	store, cfg, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	dir := filepath.Clean(firstNonEmpty(*outDir, cfg.Council.ExportDir, "data/exports"))
	writer, err := export.NewWriter(dir, store)
	if err != nil {
		return err
	}

	ids := []string{strings.TrimSpace(*sessionID)}
	if *all {
		ids, err = completedSessionIDs(ctx, store, *since)
		if err != nil {
			return err
		}
	}

	for _, id := range ids {
		bundle, err := store.ExportSession(ctx, id)
		if err != nil {
			return fmt.Errorf("load session %s: %w", id, err)
		}
		rel, err := writer.WriteSession(ctx, bundle, "")
		if err != nil {
			return fmt.Errorf("write session %s: %w", id, err)
		}
		fmt.Printf("%s votes=%d audit=%d -> %s\n", id, len(bundle.Votes), len(bundle.Audit), filepath.Join(writer.Root(), filepath.FromSlash(rel)))
	}
	fmt.Printf("exported %d session(s)\n", len(ids))
	return nil
}

func completedSessionIDs(ctx context.Context, store *sqlitestore.Store, since time.Duration) ([]string, error) {
	filter := domain.SessionFilter{Status: domain.SessionStatusCompleted, Limit: 500}
	if since > 0 {
		from := time.Now().UTC().Add(-since)
		filter.Since = &from
	}
	var ids []string
	for {
		page, err := store.ListSessions(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		for _, s := range page {
			ids = append(ids, s.ID)
		}
		if len(page) < filter.Limit {
			return ids, nil
		}
		filter.Offset += len(page)
	}
}

func runVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)

	store, _, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	checked, err := store.VerifyAuditChain(ctx)
	if err != nil {
		return fmt.Errorf("audit chain broken after %d entries: %w", checked, err)
	}
	fmt.Printf("audit chain ok entries=%d\n", checked)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
