// Vigilant is a web-resource watcher and workflow engine.
//
// Startup sequence:
//  1. Load configuration (JSON file or defaults).
//  2. Open the SQLite store and initialise the schema.
//  3. Load the proxy list (optional).
//  4. Build the HTTP client, challenge solver, notifier, and metrics.
//  5. Start the worker pool and the scheduler.
//  6. Start the control-surface HTTP server.
//  7. Block until SIGINT or SIGTERM, then perform a clean shutdown: the
//     scheduler stops dispatching, in-flight runs drain, the store closes.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GabriWar/vigilant/challenge"
	"github.com/GabriWar/vigilant/client"
	"github.com/GabriWar/vigilant/config"
	"github.com/GabriWar/vigilant/dashboard"
	"github.com/GabriWar/vigilant/executor"
	"github.com/GabriWar/vigilant/logger"
	"github.com/GabriWar/vigilant/metrics"
	"github.com/GabriWar/vigilant/notify"
	"github.com/GabriWar/vigilant/proxy"
	"github.com/GabriWar/vigilant/scheduler"
	"github.com/GabriWar/vigilant/store"
	"github.com/GabriWar/vigilant/worker"
	"github.com/GabriWar/vigilant/workflow"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := logger.LevelInfo
	if *debug {
		level = logger.LevelDebug
	}
	log := logger.New(level)
	log.Info("Vigilant starting up")

	// ── Configuration ──────────────────────────────────────────────────────
	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.DefaultConfig()
		log.Info("using default configuration")
	}

	// ── Store ──────────────────────────────────────────────────────────────
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Errorf("failed to open store at %q: %v", cfg.DatabasePath, err)
		os.Exit(1)
	}
	defer st.Close() //nolint:errcheck
	log.Infof("store open at %q", cfg.DatabasePath)

	// ── Proxy manager ──────────────────────────────────────────────────────
	pm := &proxy.ProxyManager{}
	if cfg.ProxyFile != "" {
		if err := pm.LoadProxies(cfg.ProxyFile); err != nil {
			log.Errorf("failed to load proxies from %q: %v", cfg.ProxyFile, err)
			os.Exit(1)
		}
		log.Infof("loaded %d proxies from %q", pm.Count(), cfg.ProxyFile)
	} else {
		log.Info("no proxy file configured; watchers will connect directly")
	}

	// ── Engine components ──────────────────────────────────────────────────
	m := metrics.New()

	var notifier notify.Notifier
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, log)
		log.Infof("notifications forwarded to %s", cfg.NotifyWebhookURL)
	} else {
		notifier = &notify.LogNotifier{Log: log}
	}

	solver, err := challenge.New(cfg.UserAgent)
	if err != nil {
		log.Errorf("failed to initialise challenge solver: %v", err)
		os.Exit(1)
	}

	hc := client.New(cfg, pm)
	ex := executor.New(st, hc, solver, notifier, m, log)
	runner := workflow.New(st, hc, m, log)

	// ── Worker pool and scheduler ──────────────────────────────────────────
	pool := worker.NewPool(cfg.PoolSize)
	pool.Start()
	log.Infof("worker pool started with %d workers", cfg.PoolSize)

	sc := scheduler.New(cfg, st, ex, runner, pool, notifier, log)
	sc.Start()

	// ── Control surface ────────────────────────────────────────────────────
	if cfg.DashboardAddr != "" {
		dash := dashboard.New(cfg, st, ex, runner, m, log)
		go func() {
			if err := dash.ListenAndServe(cfg.DashboardAddr); err != nil {
				log.Errorf("dashboard server error: %v", err)
			}
		}()
	}

	// ── Metrics monitor ────────────────────────────────────────────────────
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			checks, changes, errs, runs := m.Snapshot()
			log.Infof("metrics – checks: %d | changes: %d | errors: %d | workflow runs: %d | cps: %.2f",
				checks, changes, errs, runs, m.ChecksPerSecond())
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println() // newline after ^C
	log.Infof("received signal %s; shutting down", sig)

	// Stop dispatching and drain in-flight runs before closing the store.
	sc.Stop()

	checks, changes, errs, runs := m.Snapshot()
	log.Infof("final metrics – checks: %d | changes: %d | errors: %d | workflow runs: %d",
		checks, changes, errs, runs)
	log.Info("Vigilant shut down cleanly")
}
