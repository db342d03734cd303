package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// txContextKey はコンテキストに*sql.Txを格納するためのキー。
type txContextKey struct{}

// PostgresTransactor は*sql.DBのトランザクションをコンテキスト経由で各リポジトリに渡す。
type PostgresTransactor struct {
	db *sql.DB
}

// NewPostgresTransactor はPostgresTransactorを生成する。
func NewPostgresTransactor(db *sql.DB) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

// WithinTx はfnをトランザクション内で実行する。
// 既にトランザクション内であればそのトランザクションをそのまま使う。
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// conn はコンテキストにトランザクションがあればそれを、無ければdbを返す。
func conn(ctx context.Context, db *sql.DB) DBTX {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// compile-time interface check
var _ Transactor = (*PostgresTransactor)(nil)
