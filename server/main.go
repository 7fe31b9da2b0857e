package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gammadia/dockyard/provisioner/dockercloud"
	"github.com/gammadia/dockyard/server/api"
	"github.com/gammadia/dockyard/server/flags"
	"github.com/gammadia/dockyard/server/log"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

// Global context for shutdown cascading. When cancel() is called (from signal handler),
// all goroutines watching ctx.Done() begin their shutdown sequence.
var ctx, cancel = context.WithCancel(context.Background())

// wg tracks the scheduler and the HTTP server.
// main() blocks on wg.Wait() and only exits when both are done.
var wg sync.WaitGroup

func main() {
	// Setup logger first as this will be used to report progress of the rest of the setup
	if err := log.Init(version); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
	log.Info("Dockyard server starting up...", "version", version, "commit", commit)

	// Setup network listener
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", viper.GetInt(flags.Port)))
	if err != nil {
		log.Fatal("Failed to listen", "error", err)
	}

	// Setup clouds and scheduler
	if err = createScheduler(); err != nil {
		log.Fatal("Failed to create scheduler", "error", err)
	}
	for _, cloud := range clouds {
		log.Info("Cloud ready", "cloud", cloud.Name(), "templates", len(cloud.Templates()))
	}

	// Setup signal handling for graceful shutdown
	setupInterrupts()

	// Scheduler goroutine: Run() blocks in its event loop until Shutdown() is called.
	// Wait() then blocks until every cloud has cancelled its in-flight provisioning.
	wg.Add(1)
	go scheduler.Run()
	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		scheduler.Wait()
		closeRegistry()
		wg.Done()
	}()

	channel, unsubscribe := scheduler.Subscribe()
	defer unsubscribe()
	go listenEvents(channel)

	// HTTP server goroutine. Shutdown() stops accepting new connections and waits
	// for in-flight requests, bounded by the shutdown timeout.
	httpServer := &http.Server{
		Handler: api.NewServer(scheduler, lo.Map(clouds, func(c *dockercloud.Cloud, _ int) api.Cloud {
			return c
		}), log.Base).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), viper.GetDuration(flags.ShutdownTimeout))
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("HTTP server did not shut down cleanly", "error", err)
			}
		}()

		log.Info("Server listening", "address", lis.Addr())
		if err := httpServer.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to serve", "error", err)
		}
		wg.Done()
	}()

	// Block until both scheduler and HTTP server goroutines have finished.
	wg.Wait()
	log.Info("Shutdown completed. Bye!")
}

// setupInterrupts handles SIGINT and SIGTERM with a double-tap pattern:
// - First signal: calls cancel() which cascades shutdown through ctx.Done() to all goroutines
// - Second signal: forces immediate exit (in case graceful shutdown hangs)
func setupInterrupts() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}
