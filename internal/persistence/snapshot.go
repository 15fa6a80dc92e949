package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"MarginMirror/internal/state"
)

// SnapshotStore reads back archived account bytes and report history.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// LatestSnapshot returns the newest archived bytes for addr, at or before
// scanSeq when scanSeq > 0. It returns state.ErrNotFound when nothing matches.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, addr solana.PublicKey, scanSeq int64) (*SnapshotRow, error) {
	query := `
		SELECT scan_sequence, address, kind, data, captured_at
		FROM mirror.account_snapshots
		WHERE address = $1 AND ($2 = 0 OR scan_sequence <= $2)
		ORDER BY scan_sequence DESC
		LIMIT 1`

	var row SnapshotRow
	err := s.db.QueryRowContext(ctx, query, addr.String(), scanSeq).
		Scan(&row.ScanSequence, &row.Address, &row.Kind, &row.Data, &row.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &state.LookupError{Kind: "snapshot", Key: addr.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", addr, err)
	}
	return &row, nil
}

// LastScanSequence is the highest scan sequence with any archived row, or 0.
func (s *SnapshotStore) LastScanSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT GREATEST(
			(SELECT MAX(scan_sequence) FROM mirror.account_snapshots),
			(SELECT MAX(scan_sequence) FROM mirror.health_reports)
		)`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// ReportSummary is one historical health reading.
type ReportSummary struct {
	ScanSequence int64           `json:"scan_sequence"`
	MaintHealth  decimal.Decimal `json:"maint_health"`
	InitHealth   decimal.Decimal `json:"init_health"`
	Status       string          `json:"status"`
	ComputedAt   time.Time       `json:"computed_at"`
}

// ReportHistory returns the newest limit readings for account.
func (s *SnapshotStore) ReportHistory(ctx context.Context, account solana.PublicKey, limit int) ([]ReportSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scan_sequence, maint_health, init_health, status, computed_at
		FROM mirror.health_reports
		WHERE account = $1
		ORDER BY scan_sequence DESC
		LIMIT $2`, account.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("report history %s: %w", account, err)
	}
	defer rows.Close()

	var out []ReportSummary
	for rows.Next() {
		var r ReportSummary
		if err := rows.Scan(&r.ScanSequence, &r.MaintHealth, &r.InitHealth, &r.Status, &r.ComputedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes snapshots older than keep scans behind the latest.
func (s *SnapshotStore) Prune(ctx context.Context, keep int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM mirror.account_snapshots
		WHERE scan_sequence < (SELECT MAX(scan_sequence) FROM mirror.account_snapshots) - $1`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
