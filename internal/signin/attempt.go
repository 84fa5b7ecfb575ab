package signin

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Attempt is one entry in the append-only signin log. Written exactly
// once per request that reaches credential evaluation: synchronously for
// failures, from the issuer queue for successes.
type Attempt struct {
	ID        string            `json:"id"`
	AccountID string            `json:"userId"`
	IP        string            `json:"ip"`
	Headers   map[string]string `json:"headers"`
	Success   bool              `json:"success"`
	CreatedAt time.Time         `json:"createdAt"`
}

// AttemptRepository persists signin attempts. Insert only; the log is
// never updated or deleted.
type AttemptRepository interface {
	Insert(ctx context.Context, attempt Attempt) error
}

// PostgresAttemptRepository implements AttemptRepository using PostgreSQL.
type PostgresAttemptRepository struct {
	db *pgxpool.Pool
}

// NewPostgresAttemptRepository builds a Postgres-backed signin log.
func NewPostgresAttemptRepository(db *pgxpool.Pool) *PostgresAttemptRepository {
	return &PostgresAttemptRepository{db: db}
}

// Insert appends one attempt to the log.
func (r *PostgresAttemptRepository) Insert(ctx context.Context, attempt Attempt) error {
	headers, err := json.Marshal(attempt.Headers)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO signin_attempts (id, account_id, ip, headers, success, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		attempt.ID, attempt.AccountID, attempt.IP, headers, attempt.Success, attempt.CreatedAt.UTC())
	return err
}

// MemoryAttemptRepository is an in-memory signin log for development and
// tests.
type MemoryAttemptRepository struct {
	mu       sync.Mutex
	attempts []Attempt
}

// NewMemoryAttemptRepository builds an in-memory signin log.
func NewMemoryAttemptRepository() *MemoryAttemptRepository {
	return &MemoryAttemptRepository{}
}

func (r *MemoryAttemptRepository) Insert(_ context.Context, attempt Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

// All returns a copy of the log, oldest first.
func (r *MemoryAttemptRepository) All() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Attempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}
