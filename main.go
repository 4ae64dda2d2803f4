package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subbrawl/game"
	"subbrawl/server"
)

func main() {
	var (
		port       = flag.Int("port", 8080, "HTTP listen port")
		configPath = flag.String("config", "", "YAML config overlay (optional)")
		dbPath     = flag.String("db", "world.db", "sqlite world database path")
	)
	flag.Parse()

	cfg, err := game.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] Config: %v", err)
	}

	store, err := server.OpenStore(*dbPath)
	if err != nil {
		log.Fatalf("[MAIN] Database: %v", err)
	}
	defer store.Close()

	srv, err := server.NewServer(cfg, store)
	if err != nil {
		log.Fatalf("[MAIN] Server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go srv.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("GET /metrics", srv.MetricsHandler())

	httpSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
		// WriteTimeout stays zero: /stream connections are long-lived.
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("[MAIN] Listening on :%d", *port)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[MAIN] HTTP server: %v", err)
	}
	<-srv.Done()
	log.Println("[MAIN] Shutdown complete")
}
