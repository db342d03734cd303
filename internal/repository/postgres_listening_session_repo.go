package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

const sessionColumns = `id, user_id, track_id, wave_type, start_time, end_time, duration_seconds, completed`

// PostgresSessionRepo はPostgreSQLを使用した再生セッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.ListeningSession) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO listening_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.TrackID, string(s.WaveType), s.StartTime, s.EndTime, s.DurationSeconds, s.Completed,
	)
	if err != nil {
		return fmt.Errorf("failed to create listening session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.ListeningSession, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM listening_sessions WHERE id = $1`,
		id,
	)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find listening session: %w", err)
	}
	return s, nil
}

// ListByUserID は指定uidのセッションを開始時刻の降順で最大limit件返す。
func (r *PostgresSessionRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.ListeningSession, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM listening_sessions
		 WHERE user_id = $1
		 ORDER BY start_time DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list listening sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*model.ListeningSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listening session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listening sessions: %w", err)
	}
	return sessions, nil
}

// Finalize は未終了のセッションにのみ終了情報を書き込む。
// end_time IS NULL を条件にするため、同一セッションへの並行終了は1件しか成功しない。
func (r *PostgresSessionRepo) Finalize(ctx context.Context, fin model.SessionFinalization) (bool, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE listening_sessions
		 SET end_time = $3, duration_seconds = $4, completed = $5
		 WHERE id = $1 AND user_id = $2 AND end_time IS NULL`,
		fin.SessionID, fin.UserID, fin.EndTime, fin.DurationSeconds, fin.Completed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finalize listening session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteAbandonedBefore はbefore以前に開始され一度も終了していないセッションを削除する。
// 終了していないセッションは統計に計上されていないため削除しても集計値は変わらない。
func (r *PostgresSessionRepo) DeleteAbandonedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM listening_sessions WHERE end_time IS NULL AND start_time < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete abandoned sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.ListeningSession, error) {
	s := &model.ListeningSession{}
	var waveType string
	var endTime sql.NullTime
	if err := row.Scan(&s.ID, &s.UserID, &s.TrackID, &waveType, &s.StartTime, &endTime, &s.DurationSeconds, &s.Completed); err != nil {
		return nil, err
	}
	s.WaveType = model.WaveType(waveType)
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	return s, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
