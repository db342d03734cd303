// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

// ProfileRepository はプロフィールの永続化インターフェース。
// uidをキーとするドキュメントストアとして扱う。
type ProfileRepository interface {
	// FindByUserID は指定uidのプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// CreateIfAbsent はプロフィールが存在しない場合のみ作成する。
	// 戻り値は永続化されているプロフィールと、今回作成したかどうか。
	// 同時に呼ばれた場合は先に書き込んだ側の内容に収束する。
	CreateIfAbsent(ctx context.Context, profile *model.Profile) (*model.Profile, bool, error)

	// IncrementStats は統計値をアトミックに加算する。
	// プロフィールが存在しない場合はmodel.ErrProfileNotFoundを返す。
	IncrementStats(ctx context.Context, userID string, delta model.StatsDelta) error

	// UpdateNameIfEmailEquals はemailが一致する場合のみ表示名を更新する。
	// 更新した場合はtrueを返す。
	UpdateNameIfEmailEquals(ctx context.Context, userID, email, name string) (bool, error)
}

// SessionRepository は再生セッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.ListeningSession) error
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ListeningSession, error)
	// ListByUserID は指定uidのセッションを開始時刻の降順で最大limit件返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]*model.ListeningSession, error)
	// Finalize は未終了のセッションにのみ終了情報を書き込む。
	// 既に終了している場合はfalseを返す。
	Finalize(ctx context.Context, fin model.SessionFinalization) (bool, error)
	// DeleteAbandonedBefore はbefore以前に開始され一度も終了していないセッションを削除する。
	DeleteAbandonedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Transactor は複数のリポジトリ操作を1トランザクションで実行する。
type Transactor interface {
	// WithinTx はfnをトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックする。
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DBTX は*sql.DBと*sql.Txの共通部分。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
