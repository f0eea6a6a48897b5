// Command emberd boots an Ember kernel from a task manifest and serves
// the HTTP/WebSocket inspection surface.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberos/ember/internal/infrastructure/config"
	"github.com/emberos/ember/internal/infrastructure/server"
)

func main() {
	port := flag.String("port", "", "inspection server port (overrides $EMBER_PORT)")
	manifestPath := flag.String("manifest", "", "task manifest path (overrides $EMBER_MANIFEST)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *manifestPath != "" {
		cfg.Kernel.ManifestPath = *manifestPath
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("server error: %v", err)
	}
}
