package sqltool

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queryTimeout bounds every warehouse statement.
const queryTimeout = 30 * time.Second

// Result is the outcome of a warehouse query.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Warehouse is the read-only execution capability over the Atlas database.
type Warehouse interface {
	Query(ctx context.Context, sql string, args ...any) (*Result, error)
}

// PgxWarehouse executes queries against Postgres in read-only transactions.
type PgxWarehouse struct {
	pool *pgxpool.Pool
}

// NewPgxWarehouse wraps an existing connection pool.
func NewPgxWarehouse(pool *pgxpool.Pool) *PgxWarehouse {
	return &PgxWarehouse{pool: pool}
}

// Query runs one statement inside a read-only transaction with the
// warehouse timeout applied. Raw driver errors are returned unclassified;
// callers wrap them via classifyError.
func (w *PgxWarehouse) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := w.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			rows.Close()
			return nil, err
		}
		result.Rows = append(result.Rows, values)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, tx.Commit(ctx)
}
