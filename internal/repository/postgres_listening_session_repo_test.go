package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

var sessionCols = []string{"id", "user_id", "track_id", "wave_type", "start_time", "end_time", "duration_seconds", "completed"}

func TestPostgresSessionRepo_Create(t *testing.T) {
	db, mock := newMockDB(t)
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &model.ListeningSession{
		ID:        "sess-1",
		UserID:    "uid-1",
		TrackID:   "alpha-1",
		WaveType:  model.WaveAlpha,
		StartTime: start,
	}

	mock.ExpectExec(`INSERT INTO listening_sessions`).
		WithArgs("sess-1", "uid-1", "alpha-1", "alpha", start, nil, int64(0), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresSessionRepo(db).Create(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSessionRepo_FindByID(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(630 * time.Second)

	t.Run("終了済みセッション", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`SELECT .+ FROM listening_sessions WHERE id = `).
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows(sessionCols).
				AddRow("sess-1", "uid-1", "alpha-1", "alpha", start, end, 630, true))

		s, err := NewPostgresSessionRepo(db).FindByID(context.Background(), "sess-1")
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.True(t, s.Ended())
		assert.Equal(t, end, *s.EndTime)
		assert.Equal(t, model.WaveAlpha, s.WaveType)
		assert.Equal(t, int64(630), s.DurationSeconds)
	})

	t.Run("未終了セッション", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`SELECT .+ FROM listening_sessions`).
			WillReturnRows(sqlmock.NewRows(sessionCols).
				AddRow("sess-2", "uid-1", "beta-1", "beta", start, nil, 0, false))

		s, err := NewPostgresSessionRepo(db).FindByID(context.Background(), "sess-2")
		require.NoError(t, err)
		assert.False(t, s.Ended())
	})

	t.Run("見つからない場合はnil", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`SELECT .+ FROM listening_sessions`).
			WillReturnRows(sqlmock.NewRows(sessionCols))

		s, err := NewPostgresSessionRepo(db).FindByID(context.Background(), "nope")
		require.NoError(t, err)
		assert.Nil(t, s)
	})
}

func TestPostgresSessionRepo_ListByUserID(t *testing.T) {
	db, mock := newMockDB(t)
	t1 := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	t0 := t1.Add(-24 * time.Hour)

	mock.ExpectQuery(`ORDER BY start_time DESC\s+LIMIT \$2`).
		WithArgs("uid-1", 50).
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("sess-2", "uid-1", "beta-1", "beta", t1, nil, 0, false).
			AddRow("sess-1", "uid-1", "alpha-1", "alpha", t0, t0.Add(time.Minute), 60, true))

	sessions, err := NewPostgresSessionRepo(db).ListByUserID(context.Background(), "uid-1", 50)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-2", sessions[0].ID)
	assert.Equal(t, "sess-1", sessions[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSessionRepo_Finalize(t *testing.T) {
	end := time.Date(2025, 3, 1, 9, 10, 30, 0, time.UTC)
	fin := model.SessionFinalization{
		SessionID:       "sess-1",
		UserID:          "uid-1",
		EndTime:         end,
		DurationSeconds: 630,
		Completed:       true,
	}

	t.Run("未終了なら更新する", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE listening_sessions\s+SET end_time = \$3.+end_time IS NULL`).
			WithArgs("sess-1", "uid-1", end, int64(630), true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := NewPostgresSessionRepo(db).Finalize(context.Background(), fin)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("終了済みならfalse", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE listening_sessions`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := NewPostgresSessionRepo(db).Finalize(context.Background(), fin)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPostgresSessionRepo_DeleteAbandonedBefore(t *testing.T) {
	db, mock := newMockDB(t)
	before := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM listening_sessions WHERE end_time IS NULL AND start_time < \$1`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := NewPostgresSessionRepo(db).DeleteAbandonedBefore(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
