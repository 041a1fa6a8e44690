package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"chainspace.org/internal/audit"
	"chainspace.org/internal/auth"
	"chainspace.org/internal/httpapi"
	"chainspace.org/internal/obs"
	"chainspace.org/internal/space"
	"chainspace.org/internal/store/pg"
	"chainspace.org/internal/stream"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CHAINSPACE_BUILD_COMMIT"))

	// Store selection: PostgreSQL when a DSN is set, in-memory otherwise.
	var (
		store  space.Store
		probe  httpapi.ReadyProbe
		pgShut func()
	)
	if dsn := os.Getenv("CHAINSPACE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		store = pgStore
		probe = httpapi.ReadyProbe{Pinger: pgStore}
		pgShut = func() { _ = pgStore.Close() }
	} else {
		store = space.NewMemoryStore()
		log.Println("CHAINSPACE_PG_DSN not set, using in-memory store")
	}

	events := stream.New()

	opts := []space.Option{
		space.WithRecorder(audit.Recorder{}),
		space.WithEventSink(events),
		space.WithGovernance(auth.GovernancePredicate()),
	}
	if raw := os.Getenv("CHAINSPACE_MAX_DELEGATES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			log.Fatalf("CHAINSPACE_MAX_DELEGATES must be a positive integer, got %q", raw)
		}
		opts = append(opts, space.WithMaxDelegates(n))
	}

	spaces, err := space.New(store, opts...)
	if err != nil {
		log.Fatalf("space service: %v", err)
	}

	authEnabled := !strings.EqualFold(os.Getenv("CHAINSPACE_AUTH_DISABLED"), "true")
	api := httpapi.New(spaces, version,
		httpapi.WithStream(events),
		httpapi.WithReadyProbe(probe),
		httpapi.WithAuth(authEnabled),
	)

	handler := httpapi.Logging(httpapi.SecurityHeaders(httpapi.CORS(
		httpapi.MaxBodyBytes(httpapi.RateLimit(api.Handler(), 50, 25), 1<<20))))

	addr := os.Getenv("CHAINSPACE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting chainspace-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgShut != nil {
		pgShut()
	}
	log.Println("Stopped")
}
