package postgres

import (
	"context"
	"errors"
	"fmt"

	"freightflow/carrier"
	"freightflow/rating"
	"freightflow/store"
)

func (t *txStore) InsertEvaluation(ctx context.Context, e rating.Evaluation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO evaluations (id, quote_id, client_id, carrier_id, stars, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.QuoteID, e.ClientID, e.CarrierID, e.Stars, e.Comment, e.CreatedAt)
	return translate(err, "insert evaluation")
}

func carrierErr(err error, id string) error {
	if errors.Is(err, carrier.ErrNotFound) {
		return fmt.Errorf("%w: carrier %s", store.ErrNotFound, id)
	}
	return err
}

func (t *txStore) GetCarrier(ctx context.Context, id string) (carrier.Profile, error) {
	p, err := t.carriers.GetByID(ctx, id)
	return p, carrierErr(err, id)
}

func (t *txStore) LockCarrier(ctx context.Context, id string) (carrier.Profile, error) {
	p, err := t.carriers.Lock(ctx, id)
	return p, carrierErr(err, id)
}

func (t *txStore) SaveCarrier(ctx context.Context, p carrier.Profile) error {
	return carrierErr(t.carriers.Save(ctx, p), p.ID)
}
