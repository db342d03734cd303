package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

const profileColumns = `user_id, email, name, provider, created_at, updated_at,
	total_sessions, total_minutes, alpha_sessions, beta_sessions, current_streak, longest_streak`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID は指定uidのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`,
		userID,
	)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by user ID: %w", err)
	}
	return p, nil
}

// CreateIfAbsent はプロフィールが存在しない場合のみ作成する。
// ON CONFLICT DO NOTHINGで挿入し、競合した場合は既存行を読み直して返す。
func (r *PostgresProfileRepo) CreateIfAbsent(ctx context.Context, profile *model.Profile) (*model.Profile, bool, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO profiles (user_id, email, name, provider, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO NOTHING
		 RETURNING `+profileColumns,
		profile.UserID, profile.Email, profile.Name, string(profile.Provider),
		profile.CreatedAt, profile.UpdatedAt,
	)
	created, err := scanProfile(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert profile: %w", err)
	}

	existing, err := r.FindByUserID(ctx, profile.UserID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("profile %s vanished after insert conflict", profile.UserID)
	}
	return existing, false, nil
}

// IncrementStats は統計値をSQL上で加算する。
// 読み取り→書き込みを行わないため同一ユーザーの並行セッション終了でも値が失われない。
func (r *PostgresProfileRepo) IncrementStats(ctx context.Context, userID string, delta model.StatsDelta) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE profiles SET
			total_sessions = total_sessions + $2,
			total_minutes = total_minutes + $3,
			alpha_sessions = alpha_sessions + $4,
			beta_sessions = beta_sessions + $5,
			updated_at = now()
		 WHERE user_id = $1`,
		userID, delta.TotalSessions, delta.TotalMinutes, delta.AlphaSessions, delta.BetaSessions,
	)
	if err != nil {
		return fmt.Errorf("failed to increment stats: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrProfileNotFound
	}
	return nil
}

// UpdateNameIfEmailEquals はemailが一致する場合のみ表示名を更新する。
func (r *PostgresProfileRepo) UpdateNameIfEmailEquals(ctx context.Context, userID, email, name string) (bool, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE profiles SET name = $3, updated_at = now()
		 WHERE user_id = $1 AND email = $2 AND name <> $3`,
		userID, email, name,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update profile name: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// scanProfile はprofileColumnsの順に1行を読み込む。
func scanProfile(row rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var provider string
	err := row.Scan(
		&p.UserID, &p.Email, &p.Name, &provider, &p.CreatedAt, &p.UpdatedAt,
		&p.Stats.TotalSessions, &p.Stats.TotalMinutes,
		&p.Stats.AlphaSessions, &p.Stats.BetaSessions,
		&p.Stats.CurrentStreak, &p.Stats.LongestStreak,
	)
	if err != nil {
		return nil, err
	}
	p.Provider = model.ProviderKind(provider)
	return p, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
