package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must come back empty on a healthy database.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_selected_response",
			SQL: `SELECT quote_id, COUNT(*) FROM quote_responses
                  WHERE selected
                  GROUP BY quote_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_selection_matches_quote",
			SQL: `SELECT q.id, q.status FROM quotes q
                  LEFT JOIN quote_responses r ON r.quote_id = q.id AND r.selected
                  WHERE (q.status IN ('open','responded') AND (q.carrier_id IS NOT NULL OR r.id IS NOT NULL))
                     OR (q.status IN ('accepted','awaiting_pickup','in_transit','awaiting_cte_approval','finalized')
                         AND (r.id IS NULL OR r.id <> q.selected_response_id OR r.carrier_id <> q.carrier_id))`,
		},
		{
			Name: "O3_known_status",
			SQL: `SELECT id, status FROM quotes
                  WHERE status NOT IN ('open','responded','accepted','awaiting_pickup','in_transit',
                                       'awaiting_cte_approval','finalized','returned')`,
		},
		{
			Name: "O4_chat_seq_gapless",
			SQL: `WITH seqs AS (
                      SELECT chat_id, seq,
                             ROW_NUMBER() OVER (PARTITION BY chat_id ORDER BY seq) AS expected
                      FROM chat_messages)
                  SELECT * FROM seqs WHERE seq <> expected`,
		},
		{
			Name: "O5_dispute_has_pending_decision",
			SQL: `SELECT q.id FROM quotes q
                  LEFT JOIN chats c ON c.quote_id = q.id AND c.kind = 'value_renegotiation'
                  WHERE (q.status = 'awaiting_cte_approval') <> COALESCE(c.status = 'awaiting_client_decision', false)`,
		},
		{
			Name: "O6_ledger_totals",
			SQL: `SELECT e.id FROM ledger_entries e
                  LEFT JOIN ledger_items i ON i.ledger_id = e.id
                  GROUP BY e.id, e.gross, e.commission, e.insurance, e.carrier_net, e.entries
                  HAVING e.gross <> COALESCE(SUM(i.gross), 0)
                      OR e.commission <> COALESCE(SUM(i.commission), 0)
                      OR e.carrier_net <> COALESCE(SUM(i.carrier_net), 0)
                      OR e.entries <> COUNT(i.quote_id)`,
		},
		{
			Name: "O7_commission_rate",
			SQL: `SELECT quote_id FROM ledger_items
                  WHERE commission <> ROUND(gross * 0.05, 2)
                     OR carrier_net <> gross - commission - insurance`,
		},
		{
			Name: "O8_finalized_settled_once",
			SQL: `SELECT q.id FROM quotes q
                  LEFT JOIN ledger_items i ON i.quote_id = q.id
                  WHERE (q.status = 'finalized') <> (i.quote_id IS NOT NULL)`,
		},
		{
			Name: "O9_outbox_not_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending'
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O10_quote_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'quotes_no_delete')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
