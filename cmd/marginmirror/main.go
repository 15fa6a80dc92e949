package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"MarginMirror/internal/chain"
	"MarginMirror/internal/config"
	"MarginMirror/internal/observability"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "marginmirror",
	Short: "Read-only mirror of a cross-margined Solana venue",
	Long: `marginmirror decodes the venue's on-chain accounts, recomputes account
health the way the program does, and plans liquidation and settlement steps.

Settings come from built-in defaults, then --config, then MIRROR_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(component string) (zerolog.Logger, io.Closer) {
	return observability.NewRotatingLogger(component,
		observability.ParseLogLevel(cfg.Logging.Level), cfg.Logging.Rotation)
}

// newRPC returns the JSON-RPC client and the guarded account reader on top of it.
func newRPC(log zerolog.Logger, metrics *observability.Metrics) (*rpc.Client, *chain.Guard, *chain.Client) {
	rpcClient := rpc.New(cfg.Chain.RPCURL)
	guard := chain.NewGuard(chain.GuardConfig{
		Name:           "rpc",
		RatePerSecond:  cfg.Chain.RateLimit,
		Burst:          cfg.Chain.RateBurst,
		MaxFailures:    cfg.Chain.BreakerFailures,
		Timeout:        cfg.Chain.BreakerTimeout,
		RequestTimeout: cfg.Chain.RequestTimeout,
	}, metrics, log)
	return rpcClient, guard, chain.NewClient(rpcClient, cfg.CommitmentType(), guard, metrics)
}

func openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), d)
}
