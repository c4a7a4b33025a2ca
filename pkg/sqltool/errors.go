package sqltool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// QueryExecutionError is a non-retryable SQL failure (syntax, permission,
// semantic). It is stored in the turn state's last_error and surfaced to
// the model via a tool result so the next agent turn can correct the query.
type QueryExecutionError struct {
	SQL string
	Err error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("failed to execute query: %v", e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// TransientError marks a failure worth retrying: connection drops and
// timeouts.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// classifyError wraps a raw execution error as transient or terminal based
// on its error class, never on message text.
func classifyError(sql string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return &TransientError{Err: err}
	}
	return &QueryExecutionError{SQL: sql, Err: err}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions. 57014: query_canceled (statement
		// timeout). 53300: too_many_connections.
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "57014", pgErr.Code == "53300":
			return true
		}
	}
	return false
}

// Retry policy for transient warehouse failures.
const retryAttempts = 3

var (
	retryBase = 2 * time.Second
	retryMax  = 10 * time.Second
)

// executeWithRetry runs fn, retrying TransientErrors with exponential
// backoff (starting at 2s, doubling, capped at 10s; with three attempts the
// waits are 2s and 4s) up to retryAttempts total attempts.
// Terminal errors return immediately.
func executeWithRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := retryBase
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var transient *TransientError
		if !errors.As(err, &transient) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		slog.Warn("Query failed, retrying",
			"attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > retryMax {
			delay = retryMax
		}
	}
	return err
}
