package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"shortpaste/cfg"
	"shortpaste/svc/api"
	"shortpaste/svc/db"
	"shortpaste/svc/svc"
	"shortpaste/svc/util"
	"sync"
	"syscall"
	"time"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(probe())
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().
		Str("backend", c.StoreBackend).
		Strs("allowed_origins", c.AllowedOrigins).
		Msg("starting shortpaste API")
	if c.TestMode {
		util.Warn().Str("header", util.TestNowHeader).Msg("TEST_MODE enabled, clock override honoured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.Open(ctx, c)
	if err != nil {
		util.Fatal().Err(err).Str("backend", c.StoreBackend).Msg("failed to initialize store")
		os.Exit(1)
	}
	defer store.Close()
	util.Info().Str("backend", store.Backend()).Str("target", storeTarget(c)).Msg("store initialized")

	var bg sync.WaitGroup
	if m, ok := store.(db.Maintainer); ok {
		bg.Add(1)
		go func() {
			defer bg.Done()
			m.StartMaintenance(ctx)
		}()
		util.Info().Msg("store maintenance worker started")
	}

	pasteSvc := svc.NewPaste(store, c)
	// Pinned test clocks put expiry in the past relative to the wall clock.
	if c.TestMode {
		util.Info().Msg("cleanup worker disabled in test mode")
	} else if err := pasteSvc.StartCleaner(ctx, c.CleanupInterval); err != nil {
		util.Error().Err(err).Msg("failed to start cleaner")
	}

	server := api.NewServer(c, pasteSvc)
	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	pasteSvc.Shutdown()
	cancel()

	done := make(chan struct{})
	go func() {
		bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		util.Info().Msg("background workers stopped")
	case <-shutdownCtx.Done():
		util.Warn().Msg("background workers did not stop in time")
	}
	util.Info().Msg("Shutdown complete")
}

func storeTarget(c *cfg.Cfg) string {
	switch c.StoreBackend {
	case cfg.BackendRedis:
		return util.RedactURL(c.RedisURL)
	case cfg.BackendMongo:
		return util.RedactURL(c.MongoURI.Value())
	case cfg.BackendBolt:
		return c.BoltPath
	}
	return c.DatabasePath
}

// probe checks the local readiness endpoint, for container health checks.
func probe() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:"+port+"/healthz", nil)
	if err != nil {
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
