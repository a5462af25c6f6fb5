package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"governance_council/internal/api"
	"governance_council/internal/config"
	"governance_council/internal/domain"
	"governance_council/internal/export"
	"governance_council/internal/messaging/inproc"
	"governance_council/internal/orchestrator"
	"governance_council/internal/policy"
	"governance_council/internal/provider"
	"governance_council/internal/registry"
	sqlitestore "governance_council/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.council/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	rosterFlag := flag.String("roster", "", "agent roster yaml override (default: embedded roster)")
	exportFlag := flag.String("exports", "", "export directory override")
	mock := flag.Bool("mock", false, "answer every ballot with the deterministic mock provider")
	demo := flag.Bool("demo", false, "trigger a demo session on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *mock {
		cfg.Council.Mock = true
	}

	addr := firstNonEmpty(*addrFlag, cfg.Council.Addr, ":8092")
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.Council.DBPath, "data/council.db"))
	rosterPath := firstNonEmpty(*rosterFlag, cfg.Council.RosterPath)
	exportDir := filepath.Clean(firstNonEmpty(*exportFlag, cfg.Council.ExportDir, "data/exports"))

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}

	roster, err := registry.Load(rosterPath)
	if err != nil {
		log.Fatalf("load roster: %v", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	bus := inproc.New(256)
	admission := policy.New(policy.Config{
		SubjectTypes:      cfg.Council.SubjectTypes,
		MaxTitleLen:       cfg.Council.MaxTitleLen,
		MaxDescriptionLen: cfg.Council.MaxDescriptionLen,
	})
	router := provider.FromConfig(ctx, cfg, log.Default())
	writer, err := export.NewWriter(exportDir, store)
	if err != nil {
		log.Fatalf("create export writer: %v", err)
	}

	orchCfg := orchestrator.Config{
		SessionTimeout:   durationMS(cfg.Council.SessionTimeoutMS, 30*time.Second),
		MaxWait:          durationMS(cfg.Council.MaxWaitMS, 45*time.Second),
		MaxOutbound:      intOrDefault(cfg.Council.MaxOutbound, 64),
		RecoveryInterval: durationMS(cfg.Council.RecoveryIntervalMS, 10*time.Second),
		RecoveryGrace:    durationMS(cfg.Council.RecoveryGraceMS, 15*time.Second),
		StrictInvariants: cfg.Council.StrictInvariants,
	}
	orch := orchestrator.New(store, roster, router, admission, bus, orchCfg, log.Default())
	orch.Start(ctx)

	if *demo {
		go bootstrapDemo(ctx, orch)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           api.New(orch, writer, cfg, log.Default()).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf(
		"council started addr=%s db=%s roster=%d exports=%s mock=%t",
		addr,
		dbPath,
		roster.Size(),
		exportDir,
		cfg.Council.Mock,
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}

	// Sessions in flight finish on their own deadline; recovery picks up
	// anything a hard kill interrupts.
	orch.Wait()
	log.Printf("council stopped")
}

func bootstrapDemo(ctx context.Context, orch *orchestrator.Service) {
	res, err := orch.TriggerVoting(ctx, orchestrator.TriggerInput{
		Subject: domain.Subject{
			Type:        "model_release",
			Title:       "Ship the summarisation model to all tenants",
			Description: "Evaluation scores exceed the release bar. Red-team findings are closed except one low-severity prompt leak.",
		},
		IdempotencyKey: "demo-" + time.Now().UTC().Format("20060102"),
	})
	if err != nil {
		log.Printf("demo session failed: %v", err)
		return
	}
	decision := "pending"
	if res.Session.FinalDecision != nil {
		decision = string(*res.Session.FinalDecision)
	}
	log.Printf("demo session id=%s created=%t decision=%s", res.Session.ID, res.Created, decision)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
