// Package main implements a standalone fake bot liveness server for
// manual and E2E testing of the registry prober.
package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/telefleet/authgate/internal/testutil/mockbot"
)

func getPort() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	return port
}

func main() {
	srv := mockbot.New()
	defer srv.Close()

	// Re-serve the mock handler on a fixed port so other processes can
	// reach it; the httptest listener is on an ephemeral one.
	httpServer := &http.Server{
		Addr:    ":" + getPort(),
		Handler: srv.Config.Handler,
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint
		log.Println("Shutting down mockbot server...")
		//nolint:errcheck
		httpServer.Close()
	}()

	log.Printf("mockbot listening on %s (probe template: http://localhost:%s/{secret}/status)", httpServer.Addr, getPort())
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
