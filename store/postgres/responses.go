package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"freightflow/quote"
	"freightflow/store"
)

const responseColumns = `id, quote_id, carrier_id, total_value, lead_time_days, insurance_value, selected, created_at`

func scanResponse(row pgx.Row) (quote.Response, error) {
	var r quote.Response
	err := row.Scan(&r.ID, &r.QuoteID, &r.CarrierID, &r.TotalValue, &r.LeadTimeDays, &r.InsuranceValue, &r.Selected, &r.CreatedAt)
	return r, err
}

func (t *txStore) InsertResponse(ctx context.Context, r quote.Response) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO quote_responses (`+responseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)
	`, r.ID, r.QuoteID, r.CarrierID, r.TotalValue, r.LeadTimeDays, r.InsuranceValue, r.CreatedAt)
	return translate(err, "insert response")
}

func (t *txStore) GetResponse(ctx context.Context, id string) (quote.Response, error) {
	r, err := scanResponse(t.tx.QueryRow(ctx, `SELECT `+responseColumns+` FROM quote_responses WHERE id = $1`, id))
	if err != nil {
		return quote.Response{}, translate(err, "response "+id)
	}
	return r, nil
}

func (t *txStore) ListResponses(ctx context.Context, quoteID string) ([]quote.Response, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+responseColumns+`
		FROM quote_responses
		WHERE quote_id = $1
		ORDER BY total_value, id
	`, quoteID)
	if err != nil {
		return nil, translate(err, "list responses")
	}
	defer rows.Close()

	var out []quote.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan response: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SelectResponse relies on the partial unique index over selected responses;
// a second selection for the same quote fails with a unique violation.
func (t *txStore) SelectResponse(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE quote_responses SET selected = true WHERE id = $1 AND NOT selected`, id)
	if err != nil {
		return translate(err, "select response "+id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: response %s already selected or missing", store.ErrConflict, id)
	}
	return nil
}
