package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"freightflow/quote"
	"freightflow/rating"
	"freightflow/store"
)

var quoteFields = []string{
	"id", "client_id", "status", "description", "weight_kg", "volumes", "invoice_value", "freight_payer",
	"pickup_address", "destination_address", "scheduled_pickup", "bidding_deadline", "agreed_value",
	"selected_response_id", "carrier_id", "lead_time_days", "insurance_value", "accepted_at",
	"picked_up_at", "estimated_delivery", "late", "delay_reason", "revised_delivery",
	"document_code", "document_original_value", "document_declared_value", "document_difference",
	"document_registered_at", "document_approved_at", "document_rejection_reason",
	"delivery_documents", "tracking_url", "tracking_code",
	"finalized_at", "returned_at", "return_reason", "evaluated", "created_at", "updated_at",
}

var (
	quoteColumns   = strings.Join(quoteFields, ", ")
	insertQuoteSQL = buildInsertQuote()
	updateQuoteSQL = buildUpdateQuote()
)

func buildInsertQuote() string {
	params := make([]string, len(quoteFields))
	for i := range quoteFields {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return `INSERT INTO quotes (` + quoteColumns + `) VALUES (` + strings.Join(params, ", ") + `)`
}

// buildUpdateQuote rewrites the whole row, guarded by the expected status in
// the last parameter. Every parameter must appear so Postgres can type it.
func buildUpdateQuote() string {
	sets := make([]string, 0, len(quoteFields))
	for i, f := range quoteFields {
		if f == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", f, i+1))
	}
	return fmt.Sprintf(`UPDATE quotes SET %s WHERE id = $1 AND status = $%d`, strings.Join(sets, ", "), len(quoteFields)+1)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func optionalDecimal(d decimal.Decimal, valid bool) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: valid}
}

func quoteArgs(q quote.Quote) ([]any, error) {
	pickupAddr, err := json.Marshal(q.Route.Pickup)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal pickup address: %w", err)
	}
	destAddr, err := json.Marshal(q.Route.Destination)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal destination address: %w", err)
	}

	var (
		responseID, carrierID *string
		leadTime              *int
		insurance             decimal.NullDecimal
		acceptedAt            *time.Time
	)
	if s := q.Selection; s != nil {
		responseID, carrierID = &s.ResponseID, &s.CarrierID
		leadTime = &s.LeadTimeDays
		insurance = optionalDecimal(s.InsuranceValue, true)
		acceptedAt = &s.AcceptedAt
	}

	var (
		pickedUp, eta, revised *time.Time
		late                   bool
		delayReason            string
	)
	if p := q.Pickup; p != nil {
		pickedUp, eta = &p.ConfirmedAt, &p.EstimatedDelivery
		late, delayReason, revised = p.Late, p.DelayReason, p.RevisedDelivery
	}

	var (
		docCode                    *string
		docOriginal, docDeclared   decimal.NullDecimal
		docDiff                    decimal.NullDecimal
		docRegistered, docApproved *time.Time
		docRejection               string
	)
	if d := q.Document; d != nil {
		docCode = &d.Code
		docOriginal = optionalDecimal(d.OriginalValue, true)
		docDeclared = optionalDecimal(d.DeclaredValue, true)
		docDiff = optionalDecimal(d.Difference, true)
		docRegistered, docApproved = &d.RegisteredAt, d.ApprovedAt
		docRejection = d.RejectionReason
	}

	documents := q.Delivery.Documents
	if documents == nil {
		documents = []string{}
	}

	return []any{
		q.ID, q.ClientID, string(q.Status), q.Cargo.Description, q.Cargo.WeightKg, q.Cargo.Volumes, q.Cargo.InvoiceValue, string(q.Cargo.FreightPayer),
		pickupAddr, destAddr, optionalTime(q.Route.ScheduledPickup), q.Route.BiddingDeadline, q.AgreedValue,
		responseID, carrierID, leadTime, insurance, acceptedAt,
		pickedUp, eta, late, delayReason, revised,
		docCode, docOriginal, docDeclared, docDiff,
		docRegistered, docApproved, docRejection,
		documents, q.Delivery.TrackingURL, q.Delivery.TrackingCode,
		q.FinalizedAt, q.ReturnedAt, q.ReturnReason, q.Evaluated, q.CreatedAt, q.UpdatedAt,
	}, nil
}

func scanQuote(row pgx.Row) (quote.Quote, error) {
	var (
		q                          quote.Quote
		status, payer              string
		pickupAddr, destAddr       []byte
		scheduled                  *time.Time
		responseID, carrierID      *string
		leadTime                   *int
		insurance                  decimal.NullDecimal
		acceptedAt                 *time.Time
		pickedUp, eta, revised     *time.Time
		late                       bool
		delayReason                string
		docCode                    *string
		docOriginal, docDeclared   decimal.NullDecimal
		docDiff                    decimal.NullDecimal
		docRegistered, docApproved *time.Time
		docRejection               string
	)
	err := row.Scan(
		&q.ID, &q.ClientID, &status, &q.Cargo.Description, &q.Cargo.WeightKg, &q.Cargo.Volumes, &q.Cargo.InvoiceValue, &payer,
		&pickupAddr, &destAddr, &scheduled, &q.Route.BiddingDeadline, &q.AgreedValue,
		&responseID, &carrierID, &leadTime, &insurance, &acceptedAt,
		&pickedUp, &eta, &late, &delayReason, &revised,
		&docCode, &docOriginal, &docDeclared, &docDiff,
		&docRegistered, &docApproved, &docRejection,
		&q.Delivery.Documents, &q.Delivery.TrackingURL, &q.Delivery.TrackingCode,
		&q.FinalizedAt, &q.ReturnedAt, &q.ReturnReason, &q.Evaluated, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return quote.Quote{}, err
	}
	q.Status = quote.Status(status)
	q.Cargo.FreightPayer = quote.FreightPayer(payer)
	if err := json.Unmarshal(pickupAddr, &q.Route.Pickup); err != nil {
		return quote.Quote{}, fmt.Errorf("postgres: decode pickup address: %w", err)
	}
	if err := json.Unmarshal(destAddr, &q.Route.Destination); err != nil {
		return quote.Quote{}, fmt.Errorf("postgres: decode destination address: %w", err)
	}
	if scheduled != nil {
		q.Route.ScheduledPickup = *scheduled
	}
	if responseID != nil {
		q.Selection = &quote.Selection{
			ResponseID:     *responseID,
			CarrierID:      deref(carrierID),
			InsuranceValue: insurance.Decimal,
		}
		if leadTime != nil {
			q.Selection.LeadTimeDays = *leadTime
		}
		if acceptedAt != nil {
			q.Selection.AcceptedAt = *acceptedAt
		}
	}
	if pickedUp != nil {
		q.Pickup = &quote.Pickup{
			ConfirmedAt:     *pickedUp,
			Late:            late,
			DelayReason:     delayReason,
			RevisedDelivery: revised,
		}
		if eta != nil {
			q.Pickup.EstimatedDelivery = *eta
		}
	}
	if docCode != nil {
		q.Document = &quote.Document{
			Code:            *docCode,
			OriginalValue:   docOriginal.Decimal,
			DeclaredValue:   docDeclared.Decimal,
			Difference:      docDiff.Decimal,
			ApprovedAt:      docApproved,
			RejectionReason: docRejection,
		}
		if docRegistered != nil {
			q.Document.RegisteredAt = *docRegistered
		}
	}
	return q, nil
}

func (t *txStore) CreateQuote(ctx context.Context, q quote.Quote) error {
	args, err := quoteArgs(q)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, insertQuoteSQL, args...); err != nil {
		return translate(err, "insert quote")
	}
	return nil
}

func (t *txStore) GetQuote(ctx context.Context, id string) (quote.Quote, error) {
	q, err := scanQuote(t.tx.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	if err != nil {
		return quote.Quote{}, translate(err, "quote "+id)
	}
	return q, nil
}

func (t *txStore) LockQuote(ctx context.Context, id string) (quote.Quote, error) {
	q, err := scanQuote(t.tx.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return quote.Quote{}, translate(err, "lock quote "+id)
	}
	return q, nil
}

func (t *txStore) LockCarrierQuotes(ctx context.Context, carrierID string, status quote.Status) ([]quote.Quote, error) {
	return t.queryQuotes(ctx, `SELECT `+quoteColumns+` FROM quotes
		WHERE carrier_id = $1 AND status = $2
		ORDER BY created_at, id
		FOR UPDATE`, carrierID, string(status))
}

func (t *txStore) UpdateQuote(ctx context.Context, q quote.Quote, expected quote.Status) error {
	args, err := quoteArgs(q)
	if err != nil {
		return err
	}
	args = append(args, string(expected))
	tag, err := t.tx.Exec(ctx, updateQuoteSQL, args...)
	if err != nil {
		return translate(err, "update quote "+q.ID)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current string
	if err := t.tx.QueryRow(ctx, `SELECT status FROM quotes WHERE id = $1`, q.ID).Scan(&current); err != nil {
		return translate(err, "quote "+q.ID)
	}
	return fmt.Errorf("%w: quote %s is %s, expected %s", store.ErrConflict, q.ID, current, expected)
}

func (t *txStore) ListQuotes(ctx context.Context, f store.QuoteFilter) ([]quote.Quote, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if f.ClientID != "" {
		add("client_id = $%d", f.ClientID)
	}
	if f.CarrierID != "" {
		add("carrier_id = $%d", f.CarrierID)
	}

	query := `SELECT ` + quoteColumns + ` FROM quotes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return t.queryQuotes(ctx, query, args...)
}

func (t *txStore) queryQuotes(ctx context.Context, query string, args ...any) ([]quote.Quote, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "query quotes")
	}
	defer rows.Close()

	var out []quote.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan quote: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "iterate quotes")
	}
	return out, nil
}

func (t *txStore) ListPendingEvaluations(ctx context.Context, clientID string) ([]rating.Pending, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, carrier_id, finalized_at
		FROM quotes
		WHERE client_id = $1 AND status = 'finalized' AND NOT evaluated
		ORDER BY finalized_at, id
	`, clientID)
	if err != nil {
		return nil, translate(err, "pending evaluations")
	}
	defer rows.Close()

	var out []rating.Pending
	for rows.Next() {
		var p rating.Pending
		if err := rows.Scan(&p.QuoteID, &p.CarrierID, &p.FinalizedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan pending evaluation: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
