package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper guards PostgreSQL access with a circuit breaker. It exposes
// the sqlx surface the interview store actually uses; anything exotic can go
// through DB() at the caller's own risk.
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *Breaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with the standard profile.
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	return &DatabaseWrapper{
		db:     db,
		cb:     New("postgresql", "interview-store", DatabaseConfig(), logger),
		logger: logger,
	}
}

// PingContext wraps connectivity checks with the circuit breaker.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
}

// ExecContext wraps statement execution with the circuit breaker.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var execErr error
		result, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// NamedExecContext wraps named statement execution with the circuit breaker.
func (dw *DatabaseWrapper) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var execErr error
		result, execErr = dw.db.NamedExecContext(ctx, query, arg)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetContext wraps single-row scans. sql.ErrNoRows is surfaced to the caller
// without counting as a breaker failure, matching how the Redis wrapper
// treats redis.Nil.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var scanErr error
	err := dw.cb.Execute(ctx, func() error {
		scanErr = dw.db.GetContext(ctx, dest, query, args...)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		return scanErr
	})
	if err != nil {
		return err
	}
	return scanErr
}

// SelectContext wraps multi-row scans with the circuit breaker.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.cb.Execute(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, query, args...)
	})
}

// BeginTxx opens a transaction through the circuit breaker.
func (dw *DatabaseWrapper) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*TxWrapper, error) {
	var tx *sqlx.Tx
	err := dw.cb.Execute(ctx, func() error {
		var beginErr error
		tx, beginErr = dw.db.BeginTxx(ctx, opts)
		return beginErr
	})
	if err != nil {
		return nil, err
	}
	return &TxWrapper{tx: tx, cb: dw.cb}, nil
}

// Stats returns connection pool statistics.
func (dw *DatabaseWrapper) Stats() sql.DBStats {
	return dw.db.Stats()
}

// Close closes the underlying pool.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// DB returns the underlying sqlx handle for operations the wrapper does not
// cover, such as migrations at startup.
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// IsOpen reports whether the breaker currently rejects requests.
func (dw *DatabaseWrapper) IsOpen() bool {
	return dw.cb.State() == StateOpen
}

// SetMaxOpenConns sets the maximum number of open connections.
func (dw *DatabaseWrapper) SetMaxOpenConns(n int) {
	dw.db.SetMaxOpenConns(n)
}

// SetMaxIdleConns sets the maximum number of idle connections.
func (dw *DatabaseWrapper) SetMaxIdleConns(n int) {
	dw.db.SetMaxIdleConns(n)
}

// SetConnMaxLifetime sets the maximum connection lifetime.
func (dw *DatabaseWrapper) SetConnMaxLifetime(d time.Duration) {
	dw.db.SetConnMaxLifetime(d)
}

// TxWrapper carries a transaction whose statements run through the breaker.
type TxWrapper struct {
	tx *sqlx.Tx
	cb *Breaker
}

// ExecContext wraps transactional statement execution.
func (tw *TxWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := tw.cb.Execute(ctx, func() error {
		var execErr error
		result, execErr = tw.tx.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// NamedExecContext wraps transactional named statement execution.
func (tw *TxWrapper) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	var result sql.Result
	err := tw.cb.Execute(ctx, func() error {
		var execErr error
		result, execErr = tw.tx.NamedExecContext(ctx, query, arg)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Commit commits through the breaker so a dead database is noticed here too.
func (tw *TxWrapper) Commit() error {
	return tw.cb.Execute(context.Background(), func() error {
		return tw.tx.Commit()
	})
}

// Rollback bypasses the breaker; rolling back must always be attempted.
func (tw *TxWrapper) Rollback() error {
	return tw.tx.Rollback()
}
