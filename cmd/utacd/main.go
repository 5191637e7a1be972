// Command utacd is a development harness, not part of the UTAC core: it
// wires a Framework Registry around a couple of demo adapters and exposes
// them over HTTP for manual exercise. Serving HTTP is explicitly out of
// scope for the core itself; this binary exists purely so a developer can
// curl an adapter while iterating, the way aras-auth's cmd/server does for
// its own HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nexus-tools/utac/breaker"
	"github.com/nexus-tools/utac/cache"
	"github.com/nexus-tools/utac/core"
	"github.com/nexus-tools/utac/health"
	"github.com/nexus-tools/utac/ratelimit"
	"github.com/nexus-tools/utac/registry"
	"github.com/nexus-tools/utac/telemetry"
)

// echoTool is a trivial SourceTool so this binary has something to
// register without depending on a real external integration.
type echoTool struct{}

func (echoTool) Descriptor() core.ToolDescriptor {
	return core.ToolDescriptor{ID: "echo", Name: "Echo", Category: "demo"}
}

func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (core.SourceResult, error) {
	return core.SourceResult{Status: 200, Message: "echoed", Data: args}, nil
}

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := core.NoOpLogger{}

	var telem core.Telemetry
	otelProvider, err := telemetry.NewProvider("utacd")
	if err != nil {
		log.Fatalf("initializing telemetry: %v", err)
	}
	telem = otelProvider
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown error: %v", err)
		}
	}()

	c := cache.New(cfg.Cache, nil, logger)
	limiter := ratelimit.New(cfg.RateLimit, logger)
	breakers := breaker.NewRegistry(cfg.Breaker, logger, telem)
	monitor := health.New(cfg.Health, logger, telem)

	fw := registry.New(registry.Collaborators{
		Cache:     c,
		Limiter:   limiter,
		Breakers:  breakers,
		Health:    monitor,
		Logger:    logger,
		Telemetry: telem,
	})

	block := core.BlockConfig{
		Type: "echo", ID: "echo", Name: "Echo", Description: "echoes its input back", Category: "demo",
		SubBlocks: []core.SubBlockConfig{{ID: "message", Kind: core.KindShortInput, Required: true}},
	}
	if _, err := fw.CreateAdapterFromBlockConfig(block, echoTool{}, registry.Overrides{Pure: true}); err != nil {
		log.Fatalf("registering echo adapter: %v", err)
	}

	monitor.Register("echo", health.TierTool, func(ctx context.Context) error { return nil })
	ctx, cancelHealth := context.WithCancel(context.Background())
	monitor.Start(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/tools", discoverHandler(fw))
	r.Post("/tools/{id}/execute", executeHandler(fw))

	srv := &http.Server{Addr: ":8080", Handler: r}

	go func() {
		log.Printf("utacd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down utacd...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	cancelHealth()
	if err := fw.Shutdown(shutdownCtx, 10*time.Second); err != nil {
		log.Printf("framework shutdown error: %v", err)
	}
}

func discoverHandler(fw *registry.Framework) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		query := registry.Query{Text: req.URL.Query().Get("q"), Category: req.URL.Query().Get("category")}
		matches := fw.DiscoverTools(query)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(matches)
	}
}

func executeHandler(fw *registry.Framework) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		a, ok := fw.Get(id)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown tool %q", id), http.StatusNotFound)
			return
		}
		var args map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&args); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		execCtx := core.ExecutionContext{Type: "http"}
		result := a.Execute(req.Context(), execCtx, args, middleware.GetReqID(req.Context()))
		fw.RecordOutcome(id, result)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}
