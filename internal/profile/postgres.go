package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"nutri-auth/internal/domain"
	"nutri-auth/pkg/database"
	apperrors "nutri-auth/pkg/errors"
)

// Schema creates the profiles table
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	identity             TEXT PRIMARY KEY,
	email                TEXT NOT NULL,
	user_type            TEXT NOT NULL DEFAULT 'user',
	first_name           TEXT NOT NULL DEFAULT '',
	last_name            TEXT NOT NULL DEFAULT '',
	commerce_customer_id TEXT,
	commerce_linked      BOOLEAN NOT NULL DEFAULT FALSE,
	auto_created         BOOLEAN NOT NULL DEFAULT FALSE,
	previous_identity    TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_profiles_email ON profiles (email);
CREATE INDEX IF NOT EXISTS idx_profiles_user_type ON profiles (user_type, created_at DESC);
`

// DropSchema removes the profiles table
const DropSchema = `DROP TABLE IF EXISTS profiles;`

const profileColumns = `identity, email, user_type, first_name, last_name,
	COALESCE(commerce_customer_id, ''), commerce_linked, auto_created,
	COALESCE(previous_identity, ''), created_at, updated_at`

// PostgresStore keeps profiles in PostgreSQL
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates a new PostgreSQL profile store
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var p domain.Profile
	var userType string
	err := row.Scan(
		&p.Identity,
		&p.Email,
		&userType,
		&p.FirstName,
		&p.LastName,
		&p.CommerceCustomerID,
		&p.CommerceLinked,
		&p.AutoCreated,
		&p.PreviousIdentity,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.UserType = domain.ParseUserType(userType)
	return &p, nil
}

// GetUserType reads the stored type for identity
func (s *PostgresStore) GetUserType(ctx context.Context, identity string) (domain.UserType, bool, error) {
	var userType string
	err := s.db.Pool.QueryRow(ctx, `SELECT user_type FROM profiles WHERE identity = $1`, identity).Scan(&userType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserTypeUnknown, false, nil
		}
		return domain.UserTypeUnknown, false, apperrors.NewStoreUnavailableError(fmt.Errorf("failed to get user type: %w", err))
	}
	return domain.ParseUserType(userType), true, nil
}

// CreateProfile upserts the record for identity
func (s *PostgresStore) CreateProfile(ctx context.Context, identity, email string, userType domain.UserType, extra domain.ProfileExtra) error {
	query := `
		INSERT INTO profiles (
			identity, email, user_type, first_name, last_name,
			commerce_customer_id, commerce_linked, auto_created
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (identity) DO UPDATE SET
			email = EXCLUDED.email,
			user_type = EXCLUDED.user_type,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			commerce_customer_id = COALESCE(EXCLUDED.commerce_customer_id, profiles.commerce_customer_id),
			commerce_linked = profiles.commerce_linked OR EXCLUDED.commerce_linked,
			auto_created = EXCLUDED.auto_created,
			updated_at = NOW()
	`

	_, err := s.db.Pool.Exec(ctx, query,
		identity,
		domain.NormalizeEmail(email),
		string(userType),
		extra.FirstName,
		extra.LastName,
		extra.CommerceCustomerID,
		extra.CommerceLinked || extra.CommerceCustomerID != "",
		extra.AutoCreated,
	)
	if err != nil {
		return apperrors.NewStoreUnavailableError(fmt.Errorf("failed to create profile: %w", err))
	}
	return nil
}

// LinkCommerceIdentity records the commerce customer id on an existing profile
func (s *PostgresStore) LinkCommerceIdentity(ctx context.Context, identity, customerID string) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE profiles
		SET commerce_customer_id = $2, commerce_linked = TRUE, updated_at = NOW()
		WHERE identity = $1
	`, identity, customerID)
	if err != nil {
		return apperrors.NewStoreUnavailableError(fmt.Errorf("failed to link commerce identity: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("Profile not found")
	}
	return nil
}

// FindByEmail returns the most recently updated profile for email
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE email = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, domain.NormalizeEmail(email))

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStoreUnavailableError(fmt.Errorf("failed to find profile by email: %w", err))
	}
	return p, nil
}

// ListByType lists profiles of one type, newest first
func (s *PostgresStore) ListByType(ctx context.Context, userType domain.UserType, limit int) ([]domain.Profile, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE user_type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(userType), clampLimit(limit))
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(fmt.Errorf("failed to list profiles: %w", err))
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, apperrors.NewStoreUnavailableError(fmt.Errorf("failed to scan profile: %w", err))
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailableError(fmt.Errorf("error iterating profiles: %w", err))
	}
	return profiles, nil
}

// SetUserType promotes or demotes an existing profile
func (s *PostgresStore) SetUserType(ctx context.Context, identity string, userType domain.UserType) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE profiles SET user_type = $2, updated_at = NOW() WHERE identity = $1
	`, identity, string(userType))
	if err != nil {
		return apperrors.NewStoreUnavailableError(fmt.Errorf("failed to set user type: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("Profile not found")
	}
	return nil
}

// Reassign copies the record under toIdentity and removes the old one in one transaction
func (s *PostgresStore) Reassign(ctx context.Context, fromIdentity, toIdentity string) error {
	var copied bool
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO profiles (
				identity, email, user_type, first_name, last_name,
				commerce_customer_id, commerce_linked, auto_created, previous_identity, created_at
			)
			SELECT $2, email, user_type, first_name, last_name,
				commerce_customer_id, commerce_linked, auto_created, identity, created_at
			FROM profiles
			WHERE identity = $1
			ON CONFLICT (identity) DO UPDATE SET
				previous_identity = EXCLUDED.previous_identity,
				commerce_customer_id = COALESCE(profiles.commerce_customer_id, EXCLUDED.commerce_customer_id),
				updated_at = NOW()
		`, fromIdentity, toIdentity)
		if err != nil {
			return fmt.Errorf("failed to copy profile: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		copied = true

		if _, err := tx.Exec(ctx, `DELETE FROM profiles WHERE identity = $1`, fromIdentity); err != nil {
			return fmt.Errorf("failed to remove old profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return apperrors.NewStoreUnavailableError(err)
	}
	if !copied {
		return apperrors.NewNotFoundError("Profile not found")
	}
	return nil
}
