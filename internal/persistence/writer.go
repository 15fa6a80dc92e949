// Package persistence archives scan output in Postgres: raw account
// snapshots, health report history and liquidation transitions.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"MarginMirror/internal/liquidation"
	"MarginMirror/internal/margin"
)

// ReportRow is one row of mirror.health_reports.
type ReportRow struct {
	ScanSequence int64
	Report       *margin.Report
}

// SnapshotRow is one row of mirror.account_snapshots.
type SnapshotRow struct {
	ScanSequence int64
	Address      string
	Kind         string
	Data         []byte
	CapturedAt   time.Time
}

// TransitionRow is one row of mirror.liquidations.
type TransitionRow = liquidation.Transition

// Batch is the unit the worker commits in one transaction.
type Batch struct {
	Reports     []ReportRow
	Snapshots   []SnapshotRow
	Transitions []TransitionRow
}

func (b *Batch) Len() int {
	return len(b.Reports) + len(b.Snapshots) + len(b.Transitions)
}

func (b *Batch) append(o Batch) {
	b.Reports = append(b.Reports, o.Reports...)
	b.Snapshots = append(b.Snapshots, o.Snapshots...)
	b.Transitions = append(b.Transitions, o.Transitions...)
}

func (b *Batch) reset() {
	b.Reports = b.Reports[:0]
	b.Snapshots = b.Snapshots[:0]
	b.Transitions = b.Transitions[:0]
}

// Writer writes batches inside a caller-owned transaction. Reports and
// snapshots use the COPY protocol; transitions use an idempotent INSERT.
type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

var reportColumns = []string{
	"scan_sequence", "account", "owner",
	"init_health", "maint_health", "init_health_ratio", "maint_health_ratio",
	"assets", "liabs", "leverage", "status", "being_liquidated", "bankrupt",
	"report", "computed_at",
}

func (w *Writer) WriteReports(ctx context.Context, tx *sql.Tx, rows []ReportRow) error {
	if len(rows) == 0 {
		return nil
	}
	return copyIn(ctx, tx, "health_reports", reportColumns, len(rows), func(i int) ([]interface{}, error) {
		r := rows[i].Report
		doc, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal report %s: %w", r.Account, err)
		}
		return []interface{}{
			rows[i].ScanSequence, r.Account.String(), r.Owner.String(),
			r.InitHealth.String(), r.MaintHealth.String(), r.InitHealthRatio.String(), r.MaintHealthRatio.String(),
			r.Assets.String(), r.Liabs.String(), r.Leverage.String(), r.Status.String(),
			r.BeingLiquidated, r.Bankrupt,
			string(doc), r.ComputedAt,
		}, nil
	})
}

var snapshotColumns = []string{"scan_sequence", "address", "kind", "data", "captured_at"}

func (w *Writer) WriteSnapshots(ctx context.Context, tx *sql.Tx, rows []SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	return copyIn(ctx, tx, "account_snapshots", snapshotColumns, len(rows), func(i int) ([]interface{}, error) {
		s := rows[i]
		return []interface{}{s.ScanSequence, s.Address, s.Kind, s.Data, s.CapturedAt}, nil
	})
}

// WriteTransitions inserts transitions, ignoring ones already recorded.
func (w *Writer) WriteTransitions(ctx context.Context, tx *sql.Tx, rows []TransitionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO mirror.liquidations
		(liquidation_id, account, from_state, to_state, occurred_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)
	for i, t := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, t.LiquidationID.String(), t.Account.String(), t.From.String(), t.To.String(), t.At)
	}
	query += strings.Join(values, ", ")
	query += " ON CONFLICT (liquidation_id, to_state) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func copyIn(ctx context.Context, tx *sql.Tx, table string, columns []string, n int, row func(int) ([]interface{}, error)) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("mirror", table, columns...))
	if err != nil {
		return fmt.Errorf("prepare copy %s: %w", table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		vals, err := row(i)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return fmt.Errorf("copy %s row %d: %w", table, i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush copy %s: %w", table, err)
	}
	return nil
}
