package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no account or profile matches the lookup.
var ErrNotFound = errors.New("account not found")

// Repository persists accounts and credential profiles.
type Repository interface {
	// FindByUsername resolves a local account by case-insensitive username.
	FindByUsername(ctx context.Context, username string) (Account, error)
	// FindProfile loads the credential profile owned by the account.
	FindProfile(ctx context.Context, accountID string) (Profile, error)
	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, accountID, hash string) error
	// Approve marks the account as admin-approved.
	Approve(ctx context.Context, accountID string) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByUsername fetches a local account by its lowercased username.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT id, username, host, token, is_suspended, approved, created_at
        FROM accounts WHERE username_lower = $1 AND host = ''`, strings.ToLower(username))

	var (
		id        uuid.UUID
		createdAt time.Time
		acct      Account
	)
	if err := row.Scan(&id, &acct.Username, &acct.Host, &acct.Token, &acct.IsSuspended, &acct.Approved, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	acct.ID = id.String()
	acct.CreatedAt = createdAt.UTC()
	return acct, nil
}

// FindProfile fetches the credential profile for an account.
func (r *PostgresRepository) FindProfile(ctx context.Context, accountID string) (Profile, error) {
	acctID, err := uuid.Parse(accountID)
	if err != nil {
		return Profile{}, err
	}
	row := r.db.QueryRow(ctx, `SELECT password, two_factor_enabled, two_factor_secret,
        use_passwordless_login, email, email_verified
        FROM account_profiles WHERE account_id = $1`, acctID)

	profile := Profile{AccountID: accountID}
	if err := row.Scan(&profile.Password, &profile.TwoFactorEnabled, &profile.TwoFactorSecret,
		&profile.UsePasswordlessLogin, &profile.Email, &profile.EmailVerified); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	return profile, nil
}

// UpdatePassword replaces the stored password hash for an account.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, accountID, hash string) error {
	acctID, err := uuid.Parse(accountID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE account_profiles SET password = $1 WHERE account_id = $2`, hash, acctID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Approve marks the account as approved.
func (r *PostgresRepository) Approve(ctx context.Context, accountID string) error {
	acctID, err := uuid.Parse(accountID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET approved = TRUE WHERE id = $1`, acctID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
