package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"MarginMirror/internal/chain"
	"MarginMirror/internal/instruction"
	"MarginMirror/internal/observability"
	"MarginMirror/internal/state"
)

var crankCmd = &cobra.Command{
	Use:   "crank",
	Short: "Refresh the group's price, bank and perp market caches",
	Long: `Send CachePrices, CacheRootBanks and CachePerpMarkets for the configured
group, signed by chain.keypair_path. With --update, UpdateRootBank and
UpdateFunding are sent first for every listed bank and perp market.

Examples:
  marginmirror crank --dry-run
  marginmirror crank --update`,
	RunE: runCrank,
}

var (
	crankUpdate        bool
	crankDryRun        bool
	crankSkipPreflight bool
	crankTimeout       time.Duration
)

func init() {
	rootCmd.AddCommand(crankCmd)
	crankCmd.Flags().BoolVar(&crankUpdate, "update", false, "Also accrue interest and update funding")
	crankCmd.Flags().BoolVar(&crankDryRun, "dry-run", false, "Print the instructions without sending")
	crankCmd.Flags().BoolVar(&crankSkipPreflight, "skip-preflight", false, "Skip transaction simulation")
	crankCmd.Flags().DurationVar(&crankTimeout, "timeout", time.Minute, "Deadline for fetch and send")
}

func runCrank(cmd *cobra.Command, _ []string) error {
	group, err := cfg.GroupKey()
	if err != nil {
		return err
	}
	program, err := cfg.ProgramKey()
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd, crankTimeout)
	defer cancel()

	log, closer := newLogger("crank")
	defer closer.Close()
	rpcClient, guard, client := newRPC(log, observability.NewMetrics(prometheus.NewRegistry()))

	g := &state.Group{Address: group}
	if err := g.Reload(ctx, client); err != nil {
		return fmt.Errorf("load group: %w", err)
	}
	b := instruction.NewBuilder(program, g)

	var ixs []solana.Instruction
	if crankUpdate {
		updates, err := updateInstructions(ctx, b, client)
		if err != nil {
			return err
		}
		ixs = append(ixs, updates...)
	}
	for _, build := range []func() (solana.Instruction, error){b.CachePrices, b.CacheRootBanks, b.CachePerpMarkets} {
		ix, err := build()
		if err != nil {
			return err
		}
		ixs = append(ixs, ix)
	}

	if crankDryRun {
		return printJSON(cmd.OutOrStdout(), describe(ixs))
	}

	if cfg.Chain.KeypairPath == "" {
		return errors.New("chain.keypair_path is required to send (MIRROR_KEYPAIR_PATH)")
	}
	signer, err := chain.LoadSigner(cfg.Chain.KeypairPath)
	if err != nil {
		return err
	}
	sub := chain.NewSubmitter(rpcClient, signer, cfg.CommitmentType(), crankSkipPreflight, guard)
	sig, err := sub.Submit(ctx, ixs...)
	if err != nil {
		return fmt.Errorf("submit crank: %w", err)
	}
	log.Info().
		Str("signature", sig.String()).
		Str("payer", sub.Payer().String()).
		Int("instructions", len(ixs)).
		Msg("crank sent")
	return nil
}

func updateInstructions(ctx context.Context, b *instruction.Builder, f state.Fetcher) ([]solana.Instruction, error) {
	banks, err := b.Group.LoadRootBanks(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load root banks: %w", err)
	}
	markets, err := b.Group.LoadPerpMarkets(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load perp markets: %w", err)
	}

	var ixs []solana.Instruction
	for _, rb := range banks {
		if rb == nil {
			continue
		}
		ix, err := b.UpdateRootBank(rb)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, ix)
	}
	for _, pm := range markets {
		if pm == nil {
			continue
		}
		ix, err := b.UpdateFunding(pm)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, ix)
	}
	return ixs, nil
}

type describedInstruction struct {
	Name     string `json:"name"`
	Accounts int    `json:"accounts"`
	Data     string `json:"data"`
}

func describe(ixs []solana.Instruction) []describedInstruction {
	out := make([]describedInstruction, 0, len(ixs))
	for _, ix := range ixs {
		d := describedInstruction{Accounts: len(ix.Accounts())}
		data, err := ix.Data()
		if err == nil {
			d.Data = solana.Base58(data).String()
			if dec, err := instruction.Decode(data); err == nil {
				d.Name = dec.Name()
			}
		}
		out = append(out, d)
	}
	return out
}
