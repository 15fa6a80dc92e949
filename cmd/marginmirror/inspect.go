package main

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"MarginMirror/internal/core"
	"MarginMirror/internal/liquidation"
	"MarginMirror/internal/observability"
	"MarginMirror/internal/persistence"
	"MarginMirror/internal/query"
	"MarginMirror/internal/state"
)

var healthCmd = &cobra.Command{
	Use:   "health <account>",
	Short: "Compute one account's health from the chain",
	Long: `Fetch the group, its cache, the account and its open orders now, and print
the health report as JSON.

Examples:
  marginmirror health 8Xk...Pq
  MIRROR_GROUP=98pj... marginmirror health 8Xk...Pq --timeout 5s`,
	Args: cobra.ExactArgs(1),
	RunE: runHealth,
}

var decodeCmd = &cobra.Command{
	Use:   "decode <address>",
	Short: "Decode any venue account and print it as JSON",
	Long: `Fetch an address and decode it by its data type byte. With --scan the bytes
come from the Postgres archive instead of the chain: the snapshot taken at or
before that scan sequence (0 for the newest).`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

var (
	inspectTimeout time.Duration
	decodeScan     int64
	decodeArchive  bool
)

func init() {
	rootCmd.AddCommand(healthCmd, decodeCmd)

	healthCmd.Flags().DurationVar(&inspectTimeout, "timeout", 30*time.Second, "Deadline for all fetches")
	decodeCmd.Flags().DurationVar(&inspectTimeout, "timeout", 30*time.Second, "Deadline for all fetches")
	decodeCmd.Flags().BoolVar(&decodeArchive, "archive", false, "Read bytes from the Postgres archive")
	decodeCmd.Flags().Int64Var(&decodeScan, "scan", 0, "Archived scan sequence to read (with --archive)")
}

// oneShot has no scans; every health query is answered live.
type oneShot struct{ tracker *liquidation.Tracker }

func (o oneShot) Latest() *core.ScanResult      { return nil }
func (o oneShot) Tracker() *liquidation.Tracker { return o.tracker }

func runHealth(cmd *cobra.Command, args []string) error {
	addr, err := solana.PublicKeyFromBase58(args[0])
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	group, err := cfg.GroupKey()
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd, inspectTimeout)
	defer cancel()

	log, closer := newLogger("health")
	defer closer.Close()
	_, _, client := newRPC(log, observability.NewMetrics(prometheus.NewRegistry()))

	qs := query.NewQueryService(client, group, oneShot{tracker: liquidation.NewTracker()}, nil, nil)
	resp, err := qs.AccountHealth(ctx, addr, true)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

type decoded struct {
	Address  string       `json:"address"`
	Kind     string       `json:"kind"`
	Length   int          `json:"length"`
	Sequence int64        `json:"scan_sequence,omitempty"`
	Entity   state.Entity `json:"entity"`
}

func runDecode(cmd *cobra.Command, args []string) error {
	addr, err := solana.PublicKeyFromBase58(args[0])
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}

	ctx, cancel := contextWithTimeout(cmd, inspectTimeout)
	defer cancel()

	var (
		data []byte
		seq  int64
	)
	if decodeArchive {
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		row, err := persistence.NewSnapshotStore(db).LatestSnapshot(ctx, addr, decodeScan)
		if err != nil {
			return err
		}
		data, seq = row.Data, row.ScanSequence
	} else {
		log, closer := newLogger("decode")
		defer closer.Close()
		_, _, client := newRPC(log, observability.NewMetrics(prometheus.NewRegistry()))
		if data, err = client.AccountData(ctx, addr); err != nil {
			return err
		}
	}

	e, err := state.DecodeAny(addr, data)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), decoded{
		Address:  addr.String(),
		Kind:     e.Kind(),
		Length:   len(data),
		Sequence: seq,
		Entity:   e,
	})
}
