// Package testutil はパッケージ横断で使うテスト用のインメモリ実装を提供する。
package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/model"
	"github.com/hitoshi/digitalcoffee/internal/repository"
)

// MemoryStore はProfileRepository、SessionRepository、Transactorのインメモリ実装。
// 実ストアと同じく状態を持つ。*Err フィールドで特定操作のエラーを注入できる。
// WithinTx はスナップショットを取り、fnがエラーを返した場合は状態を巻き戻す。
type MemoryStore struct {
	FindProfileErr error
	CreateErr      error
	IncrementErr   error
	FinalizeErr    error

	Profiles map[string]*model.Profile          // keyed by user_id
	Sessions map[string]*model.ListeningSession // keyed by session id

	// 呼び出し回数（検証用）
	CreateIfAbsentCalls int
	IncrementCalls      int

	mu   sync.Mutex
	txMu sync.Mutex
}

// NewMemoryStore は指定プロフィールを投入したMemoryStoreを返す。
func NewMemoryStore(profiles ...*model.Profile) *MemoryStore {
	s := &MemoryStore{
		Profiles: make(map[string]*model.Profile),
		Sessions: make(map[string]*model.ListeningSession),
	}
	for _, p := range profiles {
		s.Profiles[p.UserID] = p
	}
	return s
}

// Profile はuidのプロフィールのコピーを返す。
func (s *MemoryStore) Profile(userID string) (model.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Profiles[userID]
	if !ok {
		return model.Profile{}, false
	}
	return *p, true
}

// ProfileCount は保存されているプロフィール数を返す。
func (s *MemoryStore) ProfileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Profiles)
}

func (s *MemoryStore) FindByUserID(_ context.Context, userID string) (*model.Profile, error) {
	if s.FindProfileErr != nil {
		return nil, s.FindProfileErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, profile *model.Profile) (*model.Profile, bool, error) {
	if s.CreateErr != nil {
		return nil, false, s.CreateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateIfAbsentCalls++
	if existing, ok := s.Profiles[profile.UserID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	stored := *profile
	stored.Stats = model.Stats{}
	s.Profiles[profile.UserID] = &stored
	cp := stored
	return &cp, true, nil
}

func (s *MemoryStore) IncrementStats(_ context.Context, userID string, delta model.StatsDelta) error {
	if s.IncrementErr != nil {
		return s.IncrementErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IncrementCalls++
	p, ok := s.Profiles[userID]
	if !ok {
		return model.ErrProfileNotFound
	}
	p.Stats.TotalSessions += delta.TotalSessions
	p.Stats.TotalMinutes += delta.TotalMinutes
	p.Stats.AlphaSessions += delta.AlphaSessions
	p.Stats.BetaSessions += delta.BetaSessions
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateNameIfEmailEquals(_ context.Context, userID, email, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Profiles[userID]
	if !ok || p.Email != email || p.Name == name {
		return false, nil
	}
	p.Name = name
	p.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) Create(_ context.Context, session *model.ListeningSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Sessions[session.ID]; ok {
		return errors.New("duplicate session id")
	}
	cp := *session
	s.Sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.ListeningSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.Sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(sess), nil
}

func (s *MemoryStore) ListByUserID(_ context.Context, userID string, limit int) ([]*model.ListeningSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ListeningSession
	for _, sess := range s.Sessions {
		if sess.UserID == userID {
			out = append(out, copySession(sess))
		}
	}
	slices.SortFunc(out, func(a, b *model.ListeningSession) int {
		return b.StartTime.Compare(a.StartTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Finalize(_ context.Context, fin model.SessionFinalization) (bool, error) {
	if s.FinalizeErr != nil {
		return false, s.FinalizeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.Sessions[fin.SessionID]
	if !ok || sess.UserID != fin.UserID || sess.EndTime != nil {
		return false, nil
	}
	end := fin.EndTime
	sess.EndTime = &end
	sess.DurationSeconds = fin.DurationSeconds
	sess.Completed = fin.Completed
	return true, nil
}

func (s *MemoryStore) DeleteAbandonedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.Sessions {
		if sess.EndTime == nil && sess.StartTime.Before(before) {
			delete(s.Sessions, id)
			n++
		}
	}
	return n, nil
}

// WithinTx はトランザクションを直列化し、エラー時にスナップショットへ巻き戻す。
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	profiles := make(map[string]*model.Profile, len(s.Profiles))
	for k, v := range s.Profiles {
		cp := *v
		profiles[k] = &cp
	}
	sessions := make(map[string]*model.ListeningSession, len(s.Sessions))
	for k, v := range s.Sessions {
		sessions[k] = copySession(v)
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.Profiles = profiles
		s.Sessions = sessions
		s.mu.Unlock()
		return err
	}
	return nil
}

func copySession(sess *model.ListeningSession) *model.ListeningSession {
	cp := *sess
	if sess.EndTime != nil {
		t := *sess.EndTime
		cp.EndTime = &t
	}
	return &cp
}

var (
	_ repository.ProfileRepository = (*MemoryStore)(nil)
	_ repository.SessionRepository = (*MemoryStore)(nil)
	_ repository.Transactor        = (*MemoryStore)(nil)
)
