// Package session は再生セッションのライフサイクルと統計の更新を管理する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/digitalcoffee/internal/metrics"
	"github.com/hitoshi/digitalcoffee/internal/model"
	"github.com/hitoshi/digitalcoffee/internal/repository"
)

// MaxListLimit はListで返す最大件数。
const MaxListLimit = 50

// ProfileEnsurer はIdentityに対応するプロフィールの存在を保証する。
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, identity *model.Identity) (*model.Profile, error)
}

// Tracker は再生セッションの開始・終了・一覧を提供する。
type Tracker struct {
	sessions repository.SessionRepository
	profiles repository.ProfileRepository
	tx       repository.Transactor
	ensurer  ProfileEnsurer
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewTracker はTrackerを生成する。collectorはnil可。
func NewTracker(
	sessions repository.SessionRepository,
	profiles repository.ProfileRepository,
	tx repository.Transactor,
	ensurer ProfileEnsurer,
	collector metrics.MetricsCollector,
) *Tracker {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Tracker{
		sessions: sessions,
		profiles: profiles,
		tx:       tx,
		ensurer:  ensurer,
		metrics:  collector,
		now:      time.Now,
	}
}

// Start は新しい再生セッションを作成する。
func (t *Tracker) Start(ctx context.Context, userID, trackID, waveType string) (*model.ListeningSession, error) {
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return nil, model.NewValidationError("trackId is required")
	}
	wave, err := model.ParseWaveType(waveType)
	if err != nil {
		return nil, model.NewValidationError("waveType must be alpha or beta")
	}

	sess := &model.ListeningSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		TrackID:   trackID,
		WaveType:  wave,
		StartTime: t.now(),
	}
	if err := t.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	t.metrics.RecordSessionStarted(string(wave))
	slog.Debug("session started",
		slog.String("user_id", userID),
		slog.String("session_id", sess.ID),
		slog.String("wave_type", string(wave)),
	)
	return sess, nil
}

// errSessionGone は終了処理の途中でセッションが削除されたことを表す。
var errSessionGone = errors.New("session deleted during finalization")

// End はセッションを終了し、所有者の統計に加算する。
// 終了の書き込みと統計の加算は1トランザクションで行い、どちらかが失敗すれば両方取り消す。
// 呼び出し元のキャンセルでは中断しない。
func (t *Tracker) End(ctx context.Context, identity *model.Identity, sessionID string, durationSeconds int64, completed bool) (*model.ListeningSession, error) {
	ctx = context.WithoutCancel(ctx)

	if durationSeconds < 0 {
		return nil, model.NewValidationError("duration must not be negative")
	}

	sess, err := t.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	if sess.UserID != identity.UID {
		return nil, model.NewForbiddenError()
	}
	if sess.Ended() {
		return nil, model.NewSessionAlreadyEndedError()
	}

	if _, err := t.ensurer.EnsureProfile(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}

	fin := model.SessionFinalization{
		SessionID:       sess.ID,
		UserID:          identity.UID,
		EndTime:         t.now(),
		DurationSeconds: durationSeconds,
		Completed:       completed,
	}
	// 加算値は保存済みのwave typeから求める
	delta := model.CreditForSession(sess.WaveType, durationSeconds)

	err = t.tx.WithinTx(ctx, func(ctx context.Context) error {
		finalized, err := t.sessions.Finalize(ctx, fin)
		if err != nil {
			return fmt.Errorf("failed to finalize session: %w", err)
		}
		if !finalized {
			// 読み込み後に削除された場合と終了済みの場合を区別する
			current, err := t.sessions.FindByID(ctx, sess.ID)
			if err != nil {
				return fmt.Errorf("failed to find session: %w", err)
			}
			if current == nil {
				return errSessionGone
			}
			return model.ErrSessionAlreadyEnded
		}
		if err := t.profiles.IncrementStats(ctx, identity.UID, delta); err != nil {
			return fmt.Errorf("failed to increment stats: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrSessionAlreadyEnded) {
			return nil, model.NewSessionAlreadyEndedError()
		}
		if errors.Is(err, errSessionGone) {
			return nil, model.NewSessionNotFoundError(sessionID)
		}
		return nil, err
	}

	t.metrics.RecordSessionEnded(string(sess.WaveType), completed)
	t.metrics.RecordMinutesCredited(delta.TotalMinutes)
	slog.Info("session ended",
		slog.String("user_id", identity.UID),
		slog.String("session_id", sess.ID),
		slog.Int64("duration_seconds", durationSeconds),
		slog.Int64("minutes_credited", delta.TotalMinutes),
	)

	end := fin.EndTime
	sess.EndTime = &end
	sess.DurationSeconds = durationSeconds
	sess.Completed = completed
	return sess, nil
}

// List は指定ユーザーのセッションを新しい順に返す。
// limitは1〜MaxListLimitに丸める（0以下はMaxListLimit）。
func (t *Tracker) List(ctx context.Context, userID string, limit int) ([]*model.ListeningSession, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	sessions, err := t.sessions.ListByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}
