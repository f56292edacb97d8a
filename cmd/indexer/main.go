// Package main runs the lending event indexer:
// - Ingestion (continuous): WebSocket logs subscription, decode, normalize,
//   append to the event log, reconcile positions
// - Query API: read-only JSON endpoints over events, pools and positions
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"solana-lending-indexer/internal/api"
	"solana-lending-indexer/internal/ingestion"
	"solana-lending-indexer/internal/normalizer"
	"solana-lending-indexer/internal/reconciler"
	"solana-lending-indexer/internal/solana"
	"solana-lending-indexer/internal/storage"
	chstore "solana-lending-indexer/internal/storage/clickhouse"
	"solana-lending-indexer/internal/storage/memory"
	"solana-lending-indexer/internal/storage/migrations"
	pgstore "solana-lending-indexer/internal/storage/postgres"
)

// indexerStores holds all storage implementations.
type indexerStores struct {
	eventLog  storage.EventLogStore
	pools     storage.PoolStore
	positions storage.PositionStore
	activity  *chstore.ActivityStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional, enables activity analytics)")
	programs := flag.String("programs", os.Getenv("LENDING_PROGRAM_ID"), "Comma-separated lending program IDs to monitor")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	apiAddr := flag.String("api-addr", ":8080", "Query API HTTP address (also serves /metrics)")
	slotLagWindow := flag.Int64("slot-lag-window", 5, "Slots to buffer before processing, for ordering")
	flushInterval := flag.Duration("flush-interval", 5*time.Second, "Ordering buffer flush interval")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	programList := splitPrograms(*programs)
	if len(programList) == 0 {
		logger.Fatal("No lending programs specified. Use --programs")
	}
	logger.Printf("Monitoring lending programs: %v", programList)

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start query API server
	apiServer := api.NewServer(api.ServerOptions{
		EventLog:  stores.eventLog,
		Pools:     stores.pools,
		Positions: stores.positions,
		Logger:    log.New(os.Stdout, "[api] ", log.LstdFlags),
	})
	go func() {
		logger.Printf("Starting query API on %s", *apiAddr)
		if err := http.ListenAndServe(*apiAddr, apiServer.Handler()); err != nil && err != http.ErrServerClosed {
			logger.Printf("API server error: %v", err)
		}
	}()

	// Run ingestion
	err = runIngestion(ctx, *wsEndpoint, programList, stores, *slotLagWindow, *flushInterval)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Indexer error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// splitPrograms parses the comma-separated program list.
func splitPrograms(programs string) []string {
	var list []string
	for _, p := range strings.Split(programs, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			list = append(list, p)
		}
	}
	return list
}

// createStores creates all required stores and runs migrations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*indexerStores, func(), error) {
	if useMemory {
		stores := &indexerStores{
			eventLog:  memory.NewEventLogStore(),
			pools:     memory.NewPoolStore(),
			positions: memory.NewPositionStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &indexerStores{
		eventLog:  pgstore.NewEventLogStore(pool),
		pools:     pgstore.NewPoolStore(pool),
		positions: pgstore.NewPositionStore(pool),
	}

	cleanup := func() { pool.Close() }

	// ClickHouse is optional: without it the indexer runs fully, just
	// without the activity analytics table.
	if clickhouseDSN != "" {
		chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		stores.activity = chstore.NewActivityStore(chConn)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// runIngestion runs continuous event ingestion until the context ends.
func runIngestion(ctx context.Context, wsEndpoint string, programs []string, stores *indexerStores, slotLagWindow int64, flushInterval time.Duration) error {
	ws, err := solana.NewWSClient(ctx, wsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer ws.Close()

	rec := reconciler.New(stores.pools, stores.positions)
	if stores.activity != nil {
		rec = rec.WithActivitySink(stores.activity)
	}

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:        ingestion.NewWSEventSource(ws, programs),
		Normalizer:    normalizer.New(),
		EventLog:      stores.eventLog,
		Reconciler:    rec,
		SlotLagWindow: slotLagWindow,
		FlushInterval: flushInterval,
		Logger:        log.New(os.Stdout, "[ingestion] ", log.LstdFlags|log.Lshortfile),
	})

	return runner.Run(ctx)
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
