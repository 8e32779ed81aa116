package carrier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx so the same queries serve
// plain reads and locked reads inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides access to carrier profiles.
type Repository struct {
	db Querier
}

// NewRepository wires a pgx-backed repository implementation.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

const profileColumns = `
	u.id, u.full_name,
	COALESCE(cp.rating_avg, 0), COALESCE(cp.rating_count, 0), COALESCE(cp.deliveries, 0),
	COALESCE(cp.late_period, ''), COALESCE(cp.late_month_count, 0),
	COALESCE(cp.late_year, 0), COALESCE(cp.late_year_count, 0),
	COALESCE(cp.blocked, false), u.created_at, COALESCE(cp.updated_at, u.updated_at)
`

// GetByID fetches a carrier profile by its user id. Carriers that have not
// finalized anything yet come back with zeroed counters.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	query := `SELECT ` + profileColumns + `
		FROM users u
		LEFT JOIN carrier_profiles cp ON cp.id = u.id
		WHERE u.id = $1 AND u.role = 'carrier'
	`
	profile, err := scanProfile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("carrier: query by id: %w", err)
	}
	return profile, nil
}

// List fetches up to limit carrier profiles ordered by rating.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := `SELECT ` + profileColumns + `
		FROM users u
		LEFT JOIN carrier_profiles cp ON cp.id = u.id
		WHERE u.role = 'carrier'
		ORDER BY COALESCE(cp.rating_avg, 0) DESC, u.full_name ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("carrier: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("carrier: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("carrier: iterate profiles: %w", err)
	}
	return profiles, nil
}

// Lock returns the profile row locked for update, creating it first when the
// carrier has none. Must run inside a transaction.
func (r *Repository) Lock(ctx context.Context, id string) (Profile, error) {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO carrier_profiles (id)
		SELECT id FROM users WHERE id = $1 AND role = 'carrier'
		ON CONFLICT (id) DO NOTHING
	`, id); err != nil {
		return Profile{}, fmt.Errorf("carrier: ensure profile: %w", err)
	}
	query := `SELECT ` + profileColumns + `
		FROM carrier_profiles cp
		JOIN users u ON u.id = cp.id
		WHERE cp.id = $1
		FOR UPDATE OF cp
	`
	profile, err := scanProfile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("carrier: lock profile: %w", err)
	}
	return profile, nil
}

// Save writes the counters of a locked profile back.
func (r *Repository) Save(ctx context.Context, p Profile) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE carrier_profiles
		SET rating_avg = $2,
		    rating_count = $3,
		    deliveries = $4,
		    late_period = $5,
		    late_month_count = $6,
		    late_year = $7,
		    late_year_count = $8,
		    blocked = $9,
		    updated_at = now()
		WHERE id = $1
	`, p.ID, p.Rating.Average, p.Rating.Count, p.Deliveries, p.LatePeriod, p.LateThisMonth, p.LateYear, p.LateThisYear, p.Blocked)
	if err != nil {
		return fmt.Errorf("carrier: save profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Rating.Average,
		&p.Rating.Count,
		&p.Deliveries,
		&p.LatePeriod,
		&p.LateThisMonth,
		&p.LateYear,
		&p.LateThisYear,
		&p.Blocked,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}
