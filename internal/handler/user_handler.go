package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	EnsureProfile(ctx context.Context, identity *model.Identity) (*model.Profile, error)
	Register(ctx context.Context, identity *model.Identity, email, name string) (*model.Profile, error)
	SyncSocialAuth(ctx context.Context, identity *model.Identity, email, name, provider string) (*model.Profile, bool, error)
}

// UserHandler はプロフィール管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type registerRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type socialAuthRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

type userMessageResponse struct {
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type statsResponse struct {
	TotalSessions int64 `json:"totalSessions"`
	TotalMinutes  int64 `json:"totalMinutes"`
	AlphaSessions int64 `json:"alphaSessions"`
	BetaSessions  int64 `json:"betaSessions"`
	CurrentStreak int64 `json:"currentStreak"`
	LongestStreak int64 `json:"longestStreak"`
}

type profileResponse struct {
	UserID    string        `json:"userId"`
	Email     string        `json:"email"`
	Name      string        `json:"name"`
	Provider  string        `json:"provider"`
	CreatedAt time.Time     `json:"createdAt"`
	Stats     statsResponse `json:"stats"`
}

func toProfileResponse(p *model.Profile) profileResponse {
	return profileResponse{
		UserID:    p.UserID,
		Email:     p.Email,
		Name:      p.Name,
		Provider:  string(p.Provider),
		CreatedAt: p.CreatedAt,
		Stats: statsResponse{
			TotalSessions: p.Stats.TotalSessions,
			TotalMinutes:  p.Stats.TotalMinutes,
			AlphaSessions: p.Stats.AlphaSessions,
			BetaSessions:  p.Stats.BetaSessions,
			CurrentStreak: p.Stats.CurrentStreak,
			LongestStreak: p.Stats.LongestStreak,
		},
	}
}

// Register はメールアドレス登録後のプロフィールを作成する。
// POST /api/users/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.service.Register(r.Context(), identity, req.Email, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userMessageResponse{
		UserID:  profile.UserID,
		Email:   profile.Email,
		Message: "User created successfully",
	})
}

// SocialAuth はフェデレーション認証後のプロフィールを作成または取得する。
// 作成した場合は201、既存の場合は200を返す。
// POST /api/users/social-auth
func (h *UserHandler) SocialAuth(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	var req socialAuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, created, err := h.service.SyncSocialAuth(r.Context(), identity, req.Email, req.Name, req.Provider)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if created {
		writeJSON(w, http.StatusCreated, userMessageResponse{
			UserID:  profile.UserID,
			Email:   profile.Email,
			Message: "User profile created",
		})
		return
	}
	writeJSON(w, http.StatusOK, userMessageResponse{
		UserID:  profile.UserID,
		Email:   profile.Email,
		Message: "User profile already exists",
	})
}

// Profile は認証済みユーザーのプロフィールを返す。
// プロフィールが無い場合はIdentityから作成してから返す。
// GET /api/users/profile
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	profile, err := h.service.EnsureProfile(r.Context(), identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}
