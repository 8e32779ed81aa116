package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"freightflow/settlement"
)

const ledgerColumns = `id, carrier_id, period, gross, commission, insurance, carrier_net, entries, released, updated_at`

func scanLedger(row pgx.Row) (settlement.LedgerEntry, error) {
	var (
		e      settlement.LedgerEntry
		period string
	)
	if err := row.Scan(&e.ID, &e.CarrierID, &period, &e.Gross, &e.Commission, &e.Insurance, &e.CarrierNet, &e.Entries, &e.Released, &e.UpdatedAt); err != nil {
		return settlement.LedgerEntry{}, err
	}
	p, err := settlement.ParsePeriod(period)
	if err != nil {
		return settlement.LedgerEntry{}, err
	}
	e.Period = p
	return e, nil
}

func (t *txStore) ledgerItems(ctx context.Context, ledgerID string) ([]settlement.LineItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT quote_id, gross, commission, insurance, carrier_net, finalized_at
		FROM ledger_items
		WHERE ledger_id = $1
		ORDER BY finalized_at, quote_id
	`, ledgerID)
	if err != nil {
		return nil, translate(err, "ledger items")
	}
	defer rows.Close()

	var out []settlement.LineItem
	for rows.Next() {
		var it settlement.LineItem
		if err := rows.Scan(&it.QuoteID, &it.Split.Gross, &it.Split.Commission, &it.Split.Insurance, &it.Split.CarrierNet, &it.FinalizedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *txStore) LockLedger(ctx context.Context, carrierID string, p settlement.Period) (settlement.LedgerEntry, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (carrier_id, period)
		VALUES ($1, $2)
		ON CONFLICT (carrier_id, period) DO NOTHING
	`, carrierID, p.String()); err != nil {
		return settlement.LedgerEntry{}, translate(err, "ensure ledger entry")
	}
	e, err := scanLedger(t.tx.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE carrier_id = $1 AND period = $2
		FOR UPDATE
	`, carrierID, p.String()))
	if err != nil {
		return settlement.LedgerEntry{}, translate(err, "lock ledger entry")
	}
	if e.Items, err = t.ledgerItems(ctx, e.ID); err != nil {
		return settlement.LedgerEntry{}, err
	}
	return e, nil
}

func (t *txStore) SaveLedger(ctx context.Context, e settlement.LedgerEntry) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE ledger_entries
		SET gross = $2, commission = $3, insurance = $4, carrier_net = $5,
		    entries = $6, released = $7, updated_at = $8
		WHERE id = $1
	`, e.ID, e.Gross, e.Commission, e.Insurance, e.CarrierNet, e.Entries, e.Released, e.UpdatedAt); err != nil {
		return translate(err, "save ledger entry")
	}
	for _, it := range e.Items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO ledger_items (ledger_id, quote_id, gross, commission, insurance, carrier_net, finalized_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (quote_id) DO NOTHING
		`, e.ID, it.QuoteID, it.Split.Gross, it.Split.Commission, it.Split.Insurance, it.Split.CarrierNet, it.FinalizedAt); err != nil {
			return translate(err, "insert ledger item")
		}
	}
	return nil
}

func (t *txStore) ListLedger(ctx context.Context, carrierID string) ([]settlement.LedgerEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE carrier_id = $1
		ORDER BY period DESC
	`, carrierID)
	if err != nil {
		return nil, translate(err, "list ledger")
	}
	var entries []settlement.LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, translate(err, "iterate ledger")
	}

	for i := range entries {
		if entries[i].Items, err = t.ledgerItems(ctx, entries[i].ID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
