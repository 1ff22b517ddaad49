package journal

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Migrations holds the goose migrations of PostgresProgressStore under
// "migrations".
//
//go:embed migrations/*.sql
var Migrations embed.FS

// PgxDB is the part of *pgxpool.Pool used by PostgresProgressStore.
type PgxDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresProgressStore keeps one row per (identity, day).
type PostgresProgressStore struct {
	db PgxDB
}

// NewPostgresProgressStore creates a store on db. The schema comes from
// Migrations.
func NewPostgresProgressStore(db PgxDB) (*PostgresProgressStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: postgres pool is nil", ErrInvalidConfig)
	}
	return &PostgresProgressStore{db: db}, nil
}

func (s *PostgresProgressStore) Load(ctx context.Context, identity string) (Progress, error) {
	if identity == "" {
		return nil, ErrNoIdentity
	}
	rows, err := s.db.Query(ctx,
		`SELECT day, status, last_checked_at FROM journal_progress WHERE identity = $1`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	defer rows.Close()

	p := Progress{}
	for rows.Next() {
		var (
			day    string
			status string
			at     time.Time
		)
		if err := rows.Scan(&day, &status, &at); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProgressCorrupt, err)
		}
		p[day] = DayProgress{Status: Status(status), LastCheckedAt: at.UTC()}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return p, nil
}

// Save replaces every row of identity with p in one transaction.
func (s *PostgresProgressStore) Save(ctx context.Context, identity string, p Progress) error {
	if identity == "" {
		return ErrNoIdentity
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM journal_progress WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}

	rows := make([][]any, 0, len(p))
	for day, dp := range p {
		rows = append(rows, []any{identity, day, string(dp.Status), dp.LastCheckedAt.UTC()})
	}
	if len(rows) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"journal_progress"},
			[]string{"identity", "day", "status", "last_checked_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStoreFailed, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return nil
}
