package store

import (
	"context"
	"errors"

	"freightflow/carrier"
	"freightflow/events"
	"freightflow/negotiation"
	"freightflow/pickup"
	"freightflow/quote"
	"freightflow/rating"
	"freightflow/settlement"
)

var (
	// ErrNotFound signals a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict signals a uniqueness violation or a lost compare-and-swap.
	ErrConflict = errors.New("store: conflict")
)

// QuoteFilter narrows ListQuotes. Empty fields do not filter.
type QuoteFilter struct {
	Statuses  []quote.Status
	ClientID  string
	CarrierID string
	Limit     int
	Offset    int
}

type Quotes interface {
	CreateQuote(ctx context.Context, q quote.Quote) error
	GetQuote(ctx context.Context, id string) (quote.Quote, error)
	// LockQuote reads the quote and holds it exclusively until the
	// transaction ends.
	LockQuote(ctx context.Context, id string) (quote.Quote, error)
	// LockCarrierQuotes locks every quote won by carrierID in status.
	LockCarrierQuotes(ctx context.Context, carrierID string, status quote.Status) ([]quote.Quote, error)
	// UpdateQuote writes q only if the stored status still equals expected;
	// otherwise it returns ErrConflict.
	UpdateQuote(ctx context.Context, q quote.Quote, expected quote.Status) error
	ListQuotes(ctx context.Context, f QuoteFilter) ([]quote.Quote, error)
	ListPendingEvaluations(ctx context.Context, clientID string) ([]rating.Pending, error)
}

type Responses interface {
	// InsertResponse returns ErrConflict when the carrier already bid.
	InsertResponse(ctx context.Context, r quote.Response) error
	GetResponse(ctx context.Context, id string) (quote.Response, error)
	ListResponses(ctx context.Context, quoteID string) ([]quote.Response, error)
	// SelectResponse flags r as selected; ErrConflict when another response
	// of the same quote already is.
	SelectResponse(ctx context.Context, id string) error
}

type DailyCodes interface {
	SaveDailyCode(ctx context.Context, c pickup.DailyCode) error
	GetDailyCode(ctx context.Context, carrierID string) (pickup.DailyCode, error)
}

type Chats interface {
	CreateChat(ctx context.Context, c negotiation.Chat) error
	GetChat(ctx context.Context, id string) (negotiation.Chat, error)
	LockChat(ctx context.Context, id string) (negotiation.Chat, error)
	// LockQuoteChat locks the quote's chat of the given kind.
	LockQuoteChat(ctx context.Context, quoteID string, kind negotiation.Kind) (negotiation.Chat, error)
	ListChats(ctx context.Context, quoteID string) ([]negotiation.Chat, error)
	UpdateChat(ctx context.Context, c negotiation.Chat) error
	// AppendMessage assigns the next sequence number of the chat. The chat
	// must be locked by the caller.
	AppendMessage(ctx context.Context, m negotiation.Message) (negotiation.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]negotiation.Message, error)
}

type Ledger interface {
	// LockLedger returns the entry for carrier and period, creating an empty
	// one when missing, locked for update.
	LockLedger(ctx context.Context, carrierID string, p settlement.Period) (settlement.LedgerEntry, error)
	// SaveLedger writes the totals and any line items not yet stored.
	SaveLedger(ctx context.Context, e settlement.LedgerEntry) error
	ListLedger(ctx context.Context, carrierID string) ([]settlement.LedgerEntry, error)
}

type Ratings interface {
	// InsertEvaluation returns ErrConflict when the quote was already evaluated.
	InsertEvaluation(ctx context.Context, e rating.Evaluation) error
}

type Carriers interface {
	GetCarrier(ctx context.Context, id string) (carrier.Profile, error)
	LockCarrier(ctx context.Context, id string) (carrier.Profile, error)
	SaveCarrier(ctx context.Context, p carrier.Profile) error
}

type Outbox interface {
	Enqueue(ctx context.Context, e events.Event) error
}

// Tx is the unit of work handed to InTx callbacks.
type Tx interface {
	Quotes
	Responses
	DailyCodes
	Chats
	Ledger
	Ratings
	Carriers
	Outbox
}

// Store runs fn in a single transaction. A non-nil error from fn rolls back
// every write made through tx.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
