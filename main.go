package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

// statusHandler reports process liveness, the registered sources, and the
// most recent pipeline run as plain text, for container health checks and
// quick operator inspection.
func statusHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		sources := registry.All()
		fmt.Fprintln(w, "boostbot: ok")
		fmt.Fprintf(w, "sources: %d\n", len(sources))
		for _, src := range sources {
			fmt.Fprintf(w, "  - %s\n", src.Name)
		}

		at, source, outcome := lastRunInfo()
		if at.IsZero() {
			fmt.Fprintln(w, "last run: none yet")
			return
		}
		fmt.Fprintf(w, "last run: %s\n", at.Format(time.RFC3339))
		fmt.Fprintf(w, "source: %s\n", source)
		fmt.Fprintf(w, "outcome: %s\n", outcome)
	}
}

func main() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := initDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("[E] [Main] Could not open database at %s: %v", cfg.DBPath, err)
	}
	defer database.Close()
	log.Printf("[I] [Main] Database ready at %s.", cfg.DBPath)

	registry, err := NewRegistry()
	if err != nil {
		log.Fatalf("[E] [Main] Could not load source registry: %v", err)
	}

	startBackgroundJobs(ctx, cfg, registry)
	go startDiscordBot(ctx, cfg, registry)

	http.HandleFunc("/", statusHandler(registry))
	server := &http.Server{Addr: cfg.StatusAddr}
	go func() {
		log.Printf("[I] [Main] Status endpoint listening on %s.", cfg.StatusAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[E] [Main] Status server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[I] [Main] Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[W] [Main] Status server shutdown: %v", err)
	}
	log.Println("[I] [Main] Goodbye.")
}
