package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/middleware"
	"github.com/hitoshi/digitalcoffee/internal/model"
)

// --- モック ---

type mockUserService struct {
	ensureProfileFn  func(ctx context.Context, identity *model.Identity) (*model.Profile, error)
	registerFn       func(ctx context.Context, identity *model.Identity, email, name string) (*model.Profile, error)
	syncSocialAuthFn func(ctx context.Context, identity *model.Identity, email, name, provider string) (*model.Profile, bool, error)
}

func (m *mockUserService) EnsureProfile(ctx context.Context, identity *model.Identity) (*model.Profile, error) {
	return m.ensureProfileFn(ctx, identity)
}

func (m *mockUserService) Register(ctx context.Context, identity *model.Identity, email, name string) (*model.Profile, error) {
	return m.registerFn(ctx, identity, email, name)
}

func (m *mockUserService) SyncSocialAuth(ctx context.Context, identity *model.Identity, email, name, provider string) (*model.Profile, bool, error) {
	return m.syncSocialAuthFn(ctx, identity, email, name, provider)
}

// --- ヘルパー ---

func withIdentity(req *http.Request, identity *model.Identity) *http.Request {
	return req.WithContext(middleware.ContextWithIdentity(req.Context(), identity))
}

func verifiedIdentity(uid string) *model.Identity {
	return &model.Identity{
		UID:            uid,
		Email:          uid + "@example.com",
		EmailVerified:  true,
		DisplayName:    "Test User",
		Providers:      []model.ProviderKind{model.ProviderPassword},
		SignInProvider: model.ProviderPassword,
	}
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- Register ---

func TestUserHandler_Register_Success(t *testing.T) {
	var gotEmail, gotName string
	svc := &mockUserService{
		registerFn: func(ctx context.Context, identity *model.Identity, email, name string) (*model.Profile, error) {
			gotEmail, gotName = email, name
			return &model.Profile{UserID: identity.UID, Email: email, Name: name}, nil
		},
	}
	h := NewUserHandler(svc)

	body := `{"email":"a@example.com","name":"Alice"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/users/register", strings.NewReader(body)), verifiedIdentity("uid-1"))
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotEmail != "a@example.com" || gotName != "Alice" {
		t.Errorf("Register called with (%q, %q)", gotEmail, gotName)
	}

	var resp userMessageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.UserID != "uid-1" {
		t.Errorf("userId = %q, want %q", resp.UserID, "uid-1")
	}
	if resp.Message != "User created successfully" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestUserHandler_Register_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "不正なJSON",
			body:       `{"email":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidationFailed,
		},
		{
			name:       "バリデーションエラー",
			body:       `{"email":"","name":""}`,
			err:        model.NewValidationError("email and name are required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidationFailed,
		},
		{
			name:       "登録済み",
			body:       `{"email":"a@example.com","name":"Alice"}`,
			err:        model.NewProfileAlreadyExistsError(),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeProfileAlreadyExists,
		},
		{
			name:       "内部エラー",
			body:       `{"email":"a@example.com","name":"Alice"}`,
			err:        errors.New("db down"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   model.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUserService{
				registerFn: func(ctx context.Context, identity *model.Identity, email, name string) (*model.Profile, error) {
					return nil, tt.err
				},
			}
			h := NewUserHandler(svc)
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/users/register", strings.NewReader(tt.body)), verifiedIdentity("uid-1"))
			w := httptest.NewRecorder()

			h.Register(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestUserHandler_Register_RequiresIdentity(t *testing.T) {
	h := NewUserHandler(&mockUserService{})
	req := httptest.NewRequest(http.MethodPost, "/api/users/register", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- SocialAuth ---

func TestUserHandler_SocialAuth(t *testing.T) {
	tests := []struct {
		name        string
		created     bool
		wantStatus  int
		wantMessage string
	}{
		{"新規作成", true, http.StatusCreated, "User profile created"},
		{"既存", false, http.StatusOK, "User profile already exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotProvider string
			svc := &mockUserService{
				syncSocialAuthFn: func(ctx context.Context, identity *model.Identity, email, name, provider string) (*model.Profile, bool, error) {
					gotProvider = provider
					return &model.Profile{UserID: identity.UID, Email: email}, tt.created, nil
				},
			}
			h := NewUserHandler(svc)
			body := `{"email":"g@example.com","name":"G","provider":"google.com"}`
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/users/social-auth", strings.NewReader(body)), verifiedIdentity("uid-g"))
			w := httptest.NewRecorder()

			h.SocialAuth(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotProvider != "google.com" {
				t.Errorf("provider = %q, want %q", gotProvider, "google.com")
			}
			var resp userMessageResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMessage)
			}
		})
	}
}

// --- Profile ---

func TestUserHandler_Profile(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &mockUserService{
		ensureProfileFn: func(ctx context.Context, identity *model.Identity) (*model.Profile, error) {
			return &model.Profile{
				UserID:    identity.UID,
				Email:     identity.Email,
				Name:      "Test User",
				Provider:  model.ProviderPassword,
				CreatedAt: created,
				Stats:     model.Stats{TotalSessions: 3, TotalMinutes: 42, AlphaSessions: 2, BetaSessions: 1},
			}, nil
		},
	}
	h := NewUserHandler(svc)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/users/profile", nil), verifiedIdentity("uid-1"))
	w := httptest.NewRecorder()

	h.Profile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp profileResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.UserID != "uid-1" || resp.Provider != "password" {
		t.Errorf("unexpected profile: %+v", resp)
	}
	if !resp.CreatedAt.Equal(created) {
		t.Errorf("createdAt = %v, want %v", resp.CreatedAt, created)
	}
	if resp.Stats.TotalMinutes != 42 || resp.Stats.AlphaSessions != 2 {
		t.Errorf("unexpected stats: %+v", resp.Stats)
	}
}

func TestUserHandler_Profile_InternalError(t *testing.T) {
	svc := &mockUserService{
		ensureProfileFn: func(ctx context.Context, identity *model.Identity) (*model.Profile, error) {
			return nil, errors.New("connection refused")
		},
	}
	h := NewUserHandler(svc)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/users/profile", nil), verifiedIdentity("uid-1"))
	w := httptest.NewRecorder()

	h.Profile(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if strings.Contains(body.Error, "connection refused") {
		t.Errorf("internal error leaked: %q", body.Error)
	}
}
