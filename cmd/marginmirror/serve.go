package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"MarginMirror/internal/chain"
	"MarginMirror/internal/core"
	"MarginMirror/internal/ingestion"
	"MarginMirror/internal/liquidation"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/observability"
	"MarginMirror/internal/persistence"
	"MarginMirror/internal/query"
	"MarginMirror/internal/server"
	"MarginMirror/internal/state"
)

var serveNoArchive bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scanner and the query servers",
	Long: `Scan the group every interval, archive snapshots and reports to Postgres,
publish health and liquidation events to JetStream, and serve queries over
HTTP and gRPC until interrupted.

Redis, NATS and Postgres are each skipped when their address is empty.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoArchive, "no-archive", false, "Do not connect to Postgres")
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, closer := newLogger("marginmirror")
	defer closer.Close()

	group, err := cfg.GroupKey()
	if err != nil {
		return err
	}
	program, err := cfg.ProgramKey()
	if err != nil {
		return err
	}
	planner, err := plannerConfig()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	checker := observability.NewHealthChecker(cfg.Scan.MaxScanAge)
	_, _, client := newRPC(log, metrics)

	var fetcher state.Fetcher = client
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
		defer rdb.Close()
		fetcher = chain.NewCachedFetcher(client, chain.NewRedisStore(rdb), cfg.Cache.TTL, log, metrics)
		log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("redis account cache enabled")
	}
	overlay := ingestion.NewOverlay(fetcher, cfg.Scan.Interval, log, metrics)

	scanner := core.NewScanner(core.ScannerConfig{
		Program:          program,
		Group:            group,
		Workers:          cfg.Scan.Workers,
		Planner:          planner,
		SettleMaxActions: cfg.Liquidation.SettleMaxActions,
	}, overlay, client, log.With().Str("component", "scanner").Logger(), metrics).
		WithHealthChecker(checker)

	var tasks []task

	// --- Postgres archive ---
	var (
		reports query.ReportArchive
		liqs    query.LiquidationArchive
	)
	if cfg.Storage.PostgresURL != "" && !serveNoArchive {
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := persistence.NewMigrator(db, cfg.Storage.MigrationsDir, log).Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		snapshots := persistence.NewSnapshotStore(db)
		liqStore := persistence.NewLiquidationStore(db)
		reports, liqs = snapshots, liqStore

		lastSeq, err := snapshots.LastScanSequence(ctx)
		if err != nil {
			return fmt.Errorf("last scan sequence: %w", err)
		}
		active, err := liqStore.Active(ctx)
		if err != nil {
			return fmt.Errorf("load active liquidations: %w", err)
		}
		scanner.WithStartSequence(lastSeq).Restore(active)
		log.Info().Int64("sequence", lastSeq).Int("liquidations", len(active)).Msg("archive recovered")

		persistChan := make(chan persistence.Batch, 16)
		scanner.WithPersistence(persistChan)
		worker := persistence.NewWorker(db, persistChan, cfg.Storage.BatchSize, cfg.Storage.FlushInterval, log, metrics)
		tasks = append(tasks, task{"persistence", worker.Run})
	}

	// --- NATS: outbound events, inbound account updates ---
	if cfg.Messaging.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.Messaging.NATSURL, log)
		if err != nil {
			return err
		}
		defer nc.Drain()

		if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
			return err
		}

		publisher := ingestion.NewEventPublisher(js, cfg.Messaging.PublishBuffer, log, metrics)
		scanner.WithPublisher(publisher)
		tasks = append(tasks, task{"publisher", publisher.Run})

		rawChan := make(chan ingestion.RawUpdate, 1024)
		sub := ingestion.NewAccountSubscriber(js, rawChan, log)
		if err := sub.Subscribe(ctx, cfg.Messaging.ConsumerName); err != nil {
			return err
		}
		defer sub.Stop()
		tasks = append(tasks, task{"overlay", func(ctx context.Context) error {
			return overlay.Run(ctx, rawChan)
		}})

		if cfg.Chain.WSURL != "" {
			g := &state.Group{Address: group}
			if err := g.Reload(ctx, fetcher); err != nil {
				return fmt.Errorf("load group: %w", err)
			}
			updates := make(chan chain.Update, 256)
			relay := ingestion.NewRelay(js, log)
			ws := chain.NewSubscriber(cfg.Chain.WSURL, cfg.CommitmentType(), log, metrics)
			addrs := []solana.PublicKey{g.Address, g.Cache}
			tasks = append(tasks,
				task{"relay", func(ctx context.Context) error { return relay.Run(ctx, updates) }},
				task{"ws", func(ctx context.Context) error { return resubscribe(ctx, ws, addrs, updates, log) }},
			)
		}
	}

	qs := query.NewQueryService(overlay, group, scanner, reports, liqs)
	srv := server.NewServer(server.Addrs{
		GRPC:    cfg.Server.GRPCAddr,
		HTTP:    cfg.Server.HTTPAddr,
		Metrics: cfg.Server.MetricsAddr,
	}, qs, checker, prometheus.DefaultGatherer, metrics, log)

	tasks = append(tasks,
		task{"scanner", func(ctx context.Context) error { return scanner.Run(ctx, cfg.Scan.Interval) }},
		task{"grpc", srv.StartGRPC},
		task{"http", srv.StartHTTP},
		task{"metrics", srv.StartMetrics},
	)

	// --- Start goroutines ---
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, len(tasks))
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			if err := t.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", t.name, err)
			}
		}(t)
	}

	checker.SetReady(true)
	log.Info().
		Str("group", group.String()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Int("tasks", len(tasks)).
		Msg("marginmirror ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received signal, shutting down")
	case runErr = <-errChan:
		log.Error().Err(runErr).Msg("task failed, shutting down")
	}
	checker.SetReady(false)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("shutdown complete")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out")
	}
	return runErr
}

// resubscribe keeps the websocket subscription alive across disconnects.
func resubscribe(ctx context.Context, ws *chain.Subscriber, addrs []solana.PublicKey, out chan<- chain.Update, log zerolog.Logger) error {
	backoff := time.Second
	for {
		err := ws.Run(ctx, addrs, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("account subscription ended")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func plannerConfig() (liquidation.PlannerConfig, error) {
	maxLiab, err := fmath.FromDecimal(cfg.Liquidation.MaxLiabTransfer)
	if err != nil {
		return liquidation.PlannerConfig{}, fmt.Errorf("max liab transfer: %w", err)
	}
	reserve, err := fmath.FromDecimal(cfg.Liquidation.InsuranceReserve)
	if err != nil {
		return liquidation.PlannerConfig{}, fmt.Errorf("insurance reserve: %w", err)
	}
	return liquidation.PlannerConfig{
		MaxLiabTransfer:  maxLiab,
		InsuranceReserve: reserve,
		CancelLimit:      cfg.Liquidation.CancelLimit,
	}, nil
}
