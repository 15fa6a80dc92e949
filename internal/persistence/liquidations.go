package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"MarginMirror/internal/liquidation"
)

// LiquidationStore reads the transition log back.
type LiquidationStore struct {
	db *sql.DB
}

func NewLiquidationStore(db *sql.DB) *LiquidationStore {
	return &LiquidationStore{db: db}
}

var stateByName = map[string]liquidation.LiquidationState{
	liquidation.LiquidationStateHealthy.String():       liquidation.LiquidationStateHealthy,
	liquidation.LiquidationStateLiquidatable.String():  liquidation.LiquidationStateLiquidatable,
	liquidation.LiquidationStateInLiquidation.String(): liquidation.LiquidationStateInLiquidation,
	liquidation.LiquidationStateBankrupt.String():      liquidation.LiquidationStateBankrupt,
	liquidation.LiquidationStateClosed.String():        liquidation.LiquidationStateClosed,
}

func parseState(s string) (liquidation.LiquidationState, error) {
	st, ok := stateByName[s]
	if !ok {
		return 0, fmt.Errorf("unknown liquidation state %q", s)
	}
	return st, nil
}

// Active returns the latest record of every episode that has not ended, for
// restoring a tracker after restart.
func (s *LiquidationStore) Active(ctx context.Context) ([]liquidation.ActiveLiquidation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (account)
		       liquidation_id, account, to_state,
		       (SELECT MIN(occurred_at) FROM mirror.liquidations s WHERE s.liquidation_id = l.liquidation_id),
		       occurred_at
		FROM mirror.liquidations l
		ORDER BY account, occurred_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("load active liquidations: %w", err)
	}
	defer rows.Close()

	var out []liquidation.ActiveLiquidation
	for rows.Next() {
		var (
			id, account, to string
			rec             liquidation.ActiveLiquidation
		)
		if err := rows.Scan(&id, &account, &to, &rec.StartedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if rec.State, err = parseState(to); err != nil {
			return nil, err
		}
		if rec.State == liquidation.LiquidationStateHealthy || rec.State == liquidation.LiquidationStateClosed {
			continue
		}
		if rec.LiquidationID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("liquidation id %q: %w", id, err)
		}
		if rec.Account, err = solana.PublicKeyFromBase58(account); err != nil {
			return nil, fmt.Errorf("account %q: %w", account, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// History returns every transition recorded for account, oldest first.
func (s *LiquidationStore) History(ctx context.Context, account solana.PublicKey) ([]liquidation.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT liquidation_id, from_state, to_state, occurred_at
		FROM mirror.liquidations
		WHERE account = $1
		ORDER BY occurred_at ASC`, account.String())
	if err != nil {
		return nil, fmt.Errorf("liquidation history %s: %w", account, err)
	}
	defer rows.Close()

	var out []liquidation.Transition
	for rows.Next() {
		var (
			id, from, to string
			t            = liquidation.Transition{Account: account}
		)
		if err := rows.Scan(&id, &from, &to, &t.At); err != nil {
			return nil, err
		}
		if t.LiquidationID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if t.From, err = parseState(from); err != nil {
			return nil, err
		}
		if t.To, err = parseState(to); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
