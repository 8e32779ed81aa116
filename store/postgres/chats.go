package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"freightflow/negotiation"
)

const chatColumns = `id, quote_id, client_id, carrier_id, kind, status, cycle, attempts,
	document_code, original_value, proposed_value, created_at, updated_at`

func scanChat(row pgx.Row) (negotiation.Chat, error) {
	var (
		c              negotiation.Chat
		kind, status   string
		r              negotiation.Renegotiation
		original, prop decimal.Decimal
	)
	err := row.Scan(&c.ID, &c.QuoteID, &c.ClientID, &c.CarrierID, &kind, &status, &r.Cycle, &r.Attempts,
		&r.DocumentCode, &original, &prop, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return negotiation.Chat{}, err
	}
	c.Kind = negotiation.Kind(kind)
	if c.Kind == negotiation.KindValueRenegotiation {
		r.Status = negotiation.Status(status)
		r.OriginalValue, r.ProposedValue = original, prop
		c.Renegotiation = &r
	}
	return c, nil
}

func chatState(c negotiation.Chat) negotiation.Renegotiation {
	if c.Renegotiation != nil {
		return *c.Renegotiation
	}
	return negotiation.Renegotiation{Status: negotiation.StatusActive}
}

func (t *txStore) CreateChat(ctx context.Context, c negotiation.Chat) error {
	r := chatState(c)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO chats (`+chatColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, c.QuoteID, c.ClientID, c.CarrierID, string(c.Kind), string(r.Status), r.Cycle, r.Attempts,
		r.DocumentCode, r.OriginalValue, r.ProposedValue, c.CreatedAt, c.UpdatedAt)
	return translate(err, "create chat")
}

func (t *txStore) GetChat(ctx context.Context, id string) (negotiation.Chat, error) {
	c, err := scanChat(t.tx.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id))
	if err != nil {
		return negotiation.Chat{}, translate(err, "chat "+id)
	}
	return c, nil
}

func (t *txStore) LockChat(ctx context.Context, id string) (negotiation.Chat, error) {
	c, err := scanChat(t.tx.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return negotiation.Chat{}, translate(err, "lock chat "+id)
	}
	return c, nil
}

func (t *txStore) LockQuoteChat(ctx context.Context, quoteID string, kind negotiation.Kind) (negotiation.Chat, error) {
	c, err := scanChat(t.tx.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE quote_id = $1 AND kind = $2 FOR UPDATE`, quoteID, string(kind)))
	if err != nil {
		return negotiation.Chat{}, translate(err, fmt.Sprintf("%s chat of quote %s", kind, quoteID))
	}
	return c, nil
}

func (t *txStore) ListChats(ctx context.Context, quoteID string) ([]negotiation.Chat, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+chatColumns+` FROM chats WHERE quote_id = $1 ORDER BY created_at, id`, quoteID)
	if err != nil {
		return nil, translate(err, "list chats")
	}
	defer rows.Close()

	var out []negotiation.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan chat: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txStore) UpdateChat(ctx context.Context, c negotiation.Chat) error {
	r := chatState(c)
	tag, err := t.tx.Exec(ctx, `
		UPDATE chats
		SET status = $2, cycle = $3, attempts = $4, document_code = $5,
		    original_value = $6, proposed_value = $7, updated_at = $8
		WHERE id = $1
	`, c.ID, string(r.Status), r.Cycle, r.Attempts, r.DocumentCode, r.OriginalValue, r.ProposedValue, c.UpdatedAt)
	if err != nil {
		return translate(err, "update chat "+c.ID)
	}
	if tag.RowsAffected() == 0 {
		return translate(pgx.ErrNoRows, "chat "+c.ID)
	}
	return nil
}

// AppendMessage numbers the message after the current maximum. Callers hold
// the chat row lock, and the (chat_id, seq) unique key rejects any race that
// slips past it.
func (t *txStore) AppendMessage(ctx context.Context, m negotiation.Message) (negotiation.Message, error) {
	var payload []byte
	if m.Payload != nil {
		b, err := json.Marshal(m.Payload)
		if err != nil {
			return negotiation.Message{}, fmt.Errorf("postgres: marshal message payload: %w", err)
		}
		payload = b
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO chat_messages (id, chat_id, seq, sender, sender_id, body, payload, created_at)
		SELECT $1::uuid, $2::uuid, COALESCE(MAX(seq), 0) + 1, $3::text, $4::uuid, $5::text, $6::jsonb, $7::timestamptz
		FROM chat_messages
		WHERE chat_id = $2
		RETURNING seq
	`, m.ID, m.ChatID, string(m.Sender), nullString(m.SenderID), m.Body, payload, m.CreatedAt).Scan(&m.Seq)
	if err != nil {
		return negotiation.Message{}, translate(err, "append message")
	}
	return m, nil
}

func (t *txStore) ListMessages(ctx context.Context, chatID string) ([]negotiation.Message, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, chat_id, seq, sender, sender_id, body, payload, created_at
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY seq
	`, chatID)
	if err != nil {
		return nil, translate(err, "list messages")
	}
	defer rows.Close()

	var out []negotiation.Message
	for rows.Next() {
		var (
			m        negotiation.Message
			sender   string
			senderID *string
			payload  []byte
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Seq, &sender, &senderID, &m.Body, &payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Sender = negotiation.SenderRole(sender)
		m.SenderID = deref(senderID)
		if len(payload) > 0 {
			var p negotiation.Payload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("postgres: decode message payload: %w", err)
			}
			m.Payload = &p
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
