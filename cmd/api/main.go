package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vibz-labs/vibz/backend/internal/config"
	"github.com/vibz-labs/vibz/backend/internal/handler"
	"github.com/vibz-labs/vibz/backend/internal/service/generation"
	"github.com/vibz-labs/vibz/backend/internal/service/studio"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	generationClient := generation.NewClient(cfg.Generation.BaseURL, cfg.Generation.Timeout)
	waitForGeneration(ctx, generationClient, cfg.Generation.HealthWait)

	studioService := studio.NewService(generationClient, studio.Options{
		NoticeTTL:        cfg.Studio.NoticeTTL,
		FinetunedEnabled: cfg.Studio.FinetunedEnabled,
		DefaultDuration:  cfg.Studio.DefaultDuration,
	}, cfg.Studio.SessionIdle)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		studioService.Run(ctx)
	}()

	router := handler.NewRouter(studioService, generationClient, handler.Options{
		StaticDir:       cfg.Server.StaticDir,
		MaxUploadBytes:  cfg.Studio.MaxUploadBytes,
		MicGrantTimeout: cfg.Studio.MicGrantTimeout,
	})

	startServer(ctx, cfg.Server, router)
	stop()
	wg.Wait()
}

// waitForGeneration logs whether the generation service is up. The studio
// starts either way; submissions fail with a notice until it is reachable.
func waitForGeneration(ctx context.Context, client *generation.Client, wait time.Duration) {
	if wait <= 0 {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := client.WaitForHealthy(waitCtx, 2*time.Second); err != nil {
		log.Printf("warning: generation service at %s not healthy: %v", client.BaseURL(), err)
		return
	}
	log.Printf("generation service at %s is healthy", client.BaseURL())
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Vibz studio backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
