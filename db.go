package codex

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// conn is what the record layer needs from its connection: query execution,
// transactions, the type registry, and a logger. *DB satisfies it in
// production; tests satisfy it with mocks.
type conn interface {
	Executor
	Tx(ctx context.Context, fn func(tx Executor) error) error
	registry() *registry
	logger() *zap.Logger
}

// DB owns one connection pool and one record-type registry. Establish it
// once per process with Connect and share it; pooled connections are
// acquired per query and released unconditionally.
type DB struct {
	pool *pgxpool.Pool
	reg  *registry
	log  *zap.Logger
}

// Option configures Connect.
type Option func(*DB)

// WithLogger routes query and lifecycle logging through l. The default
// logger discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(db *DB) { db.log = l }
}

// Connect establishes the pool and verifies it with a ping. The first host
// in cfg is primary; the rest become protocol-level fallbacks.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*DB, error) {
	db := &DB{reg: newRegistry(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(db)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, &ConnectionError{err: xerrors.Errorf("parse config: %w", err)}
	}
	for _, h := range cfg.Hosts[min(1, len(cfg.Hosts)):] {
		poolCfg.ConnConfig.Fallbacks = append(poolCfg.ConnConfig.Fallbacks, &pgconn.FallbackConfig{
			Host: h,
			Port: poolCfg.ConnConfig.Port,
		})
	}
	log := db.log
	poolCfg.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		log.Warn("database notice", zap.String("message", n.Message), zap.String("detail", n.Detail))
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &ConnectionError{err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &ConnectionError{err: err}
	}
	db.pool = pool
	db.log.Info("connected", zap.String("database", cfg.Database))
	return db, nil
}

// Close releases the pool and clears the registry; registered types do not
// survive a disconnect.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
		db.pool = nil
	}
	db.reg.clear()
	db.log.Info("disconnected")
}

// Exec runs a write statement on a pooled connection.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if db.pool == nil {
		return 0, ErrNotConnected
	}
	db.log.Debug("exec", zap.String("sql", sql))
	tag, err := db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, translateErr(err)
	}
	return tag.RowsAffected(), nil
}

// Query runs a read statement on a pooled connection. pgx releases the
// connection when the returned rows are closed or exhausted, error included.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if db.pool == nil {
		return nil, ErrNotConnected
	}
	db.log.Debug("query", zap.String("sql", sql))
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return rows, nil
}

// Tx wraps fn in a transaction: begin, run, commit; any failure rolls back
// before propagating. fn's own taxonomy errors pass through untouched.
func (db *DB) Tx(ctx context.Context, fn func(tx Executor) error) error {
	if db.pool == nil {
		return ErrNotConnected
	}
	pgxTx, err := db.pool.Begin(ctx)
	if err != nil {
		return &TransactionError{Op: "begin", err: err}
	}
	if err := fn(&txExecutor{tx: pgxTx, log: db.log}); err != nil {
		// Rollback failure is secondary to fn's error; log and propagate fn's.
		if rbErr := pgxTx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			db.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return translateErr(err)
	}
	if err := pgxTx.Commit(ctx); err != nil {
		return &TransactionError{Op: "commit", err: err}
	}
	return nil
}

func (db *DB) registry() *registry { return db.reg }
func (db *DB) logger() *zap.Logger { return db.log }

// Type returns the record type registered under the given logical key or
// physical table name.
func (db *DB) Type(key string) (*Type, error) {
	t, ok := db.reg.lookup(key)
	if !ok {
		return nil, &RegistrationError{Table: key, Reason: "no record type registered"}
	}
	return t, nil
}

// txExecutor binds the Executor surface to one open transaction.
type txExecutor struct {
	tx  pgx.Tx
	log *zap.Logger
}

func (e *txExecutor) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	e.log.Debug("tx exec", zap.String("sql", sql))
	tag, err := e.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, translateErr(err)
	}
	return tag.RowsAffected(), nil
}

func (e *txExecutor) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	e.log.Debug("tx query", zap.String("sql", sql))
	rows, err := e.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return rows, nil
}
