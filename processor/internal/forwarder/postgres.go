package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/greendelivery/coldchain/pkg/types"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore inserts each record as one row of a raw telemetry table.
type PostgresStore struct {
	db    DB
	table string
	now   func() time.Time
}

// NewPostgresStore creates a store writing to table.
func NewPostgresStore(db DB, table string) *PostgresStore {
	return &PostgresStore{db: db, table: table, now: time.Now}
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// EnsureSchema creates the table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.ident()+` (
		id          BIGSERIAL PRIMARY KEY,
		package_id  TEXT        NOT NULL,
		ts          TIMESTAMPTZ NOT NULL,
		payload     JSONB       NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("forwarder: ensure schema %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Submit(ctx context.Context, rec *types.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Permanent(fmt.Errorf("encode record: %w", err))
	}

	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		ts = s.now().UTC()
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.ident()+` (package_id, ts, payload) VALUES ($1, $2, $3)`,
		rec.PackageID, ts, payload,
	)
	if err != nil {
		if isPermanentPgError(err) {
			return Permanent(fmt.Errorf("insert: %w", err))
		}
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// isPermanentPgError reports data exceptions (class 22) and integrity
// violations (class 23), which fail the same way on every attempt.
func isPermanentPgError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23":
		return true
	}
	return false
}
