package postgres

import (
	"context"

	"freightflow/pickup"
)

func (t *txStore) SaveDailyCode(ctx context.Context, c pickup.DailyCode) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO carrier_daily_codes (carrier_id, code, generated_on, generated_at)
		VALUES ($1, $2, $3::date, $4)
		ON CONFLICT (carrier_id) DO UPDATE
		SET code = EXCLUDED.code,
		    generated_on = EXCLUDED.generated_on,
		    generated_at = EXCLUDED.generated_at
	`, c.CarrierID, c.Code, c.GeneratedOn, c.GeneratedAt)
	return translate(err, "save daily code")
}

func (t *txStore) GetDailyCode(ctx context.Context, carrierID string) (pickup.DailyCode, error) {
	var c pickup.DailyCode
	err := t.tx.QueryRow(ctx, `
		SELECT carrier_id, code, generated_on::text, generated_at
		FROM carrier_daily_codes
		WHERE carrier_id = $1
	`, carrierID).Scan(&c.CarrierID, &c.Code, &c.GeneratedOn, &c.GeneratedAt)
	if err != nil {
		return pickup.DailyCode{}, translate(err, "daily code of "+carrierID)
	}
	return c, nil
}
