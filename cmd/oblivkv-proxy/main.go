package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mundrapranay/oblivkv/internal/backend"
	"github.com/mundrapranay/oblivkv/internal/config"
	"github.com/mundrapranay/oblivkv/internal/ingress"
	"github.com/mundrapranay/oblivkv/internal/proxy"
)

var (
	configPath  = flag.String("config", "", "Path to the YAML configuration file")
	listenAddr  = flag.String("listen-addr", "", "Override listen_addr")
	backendKind = flag.String("backend", "", "Override backend.kind (grpc, redis, leveldb, memory)")
	backendAddr = flag.String("backend-addr", "", "Override backend.address")
	backendPath = flag.String("backend-path", "", "Override backend.path")
	secretFile  = flag.String("secret-file", "", "Override secret_file")
	logLevel    = flag.String("log-level", "", "Override log.level")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

// run returns the process exit code so deferred closes finish before exit.
func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, logCloser, err := config.NewLogger("oblivkv-proxy", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	pc, err := cfg.Proxy()
	if err != nil {
		logger.Error("invalid proxy configuration", "error", err)
		return 1
	}

	b, err := backend.Open(cfg.Backend)
	if err != nil {
		logger.Error("failed to open backend", "kind", cfg.Backend.Kind, "error", err)
		return 1
	}
	defer b.Close()

	sched, err := proxy.NewScheduler(pc, b, logger.Named("scheduler"))
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		return 1
	}

	srv := ingress.NewServer(cfg.Ingress, sched, logger.Named("ingress"))

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(cfg.ListenAddr) }()

	logger.Info("proxy ready",
		"listen", cfg.ListenAddr,
		"backend", cfg.Backend.Kind,
		"batch_size", pc.BatchSize,
		"dummy_fill", pc.DummyFillCount,
		"dummy_pool", pc.DummyPoolSize,
		"cache", pc.CacheCapacity)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("ingress stopped", "error", err)
			return 1
		}
	case <-sigChan:
		logger.Info("shutting down")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Warn("unclean shutdown", "error", err)
		}
	}

	st := sched.Stats()
	logger.Info("final stats", "rounds", st.Rounds, "degraded", st.DegradedRounds, "write_failures", st.WriteFailures)
	return 0
}

// loadConfig reads -config if given and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.ReadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *backendKind != "" {
		cfg.Backend.Kind = *backendKind
	}
	if *backendAddr != "" {
		cfg.Backend.Address = *backendAddr
	}
	if *backendPath != "" {
		cfg.Backend.Path = *backendPath
	}
	if *secretFile != "" {
		cfg.SecretFile = *secretFile
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
