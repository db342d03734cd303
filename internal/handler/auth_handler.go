// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/auth"
	"github.com/hitoshi/digitalcoffee/internal/middleware"
	"github.com/hitoshi/digitalcoffee/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginGoogleLogin() (authURL, state string, err error)
	CompleteGoogleLogin(ctx context.Context, state, code string) (*model.Credential, error)
	AbandonGoogleLogin(state string)
}

// oauthErrorMessages はRFC 6749のエラーコードごとの応答メッセージ。
// クエリの値はそのまま応答に含めない。
var oauthErrorMessages = map[string]string{
	"access_denied":             "認可が拒否されました。",
	"invalid_request":           "認可リクエストが不正です。",
	"unauthorized_client":       "クライアントが認可されていません。",
	"unsupported_response_type": "認可リクエストが不正です。",
	"invalid_scope":             "要求したスコープが不正です。",
	"server_error":              "認可サーバーでエラーが発生しました。",
	"temporarily_unavailable":   "認可サーバーが一時的に利用できません。",
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
	StateMaxAge  int // stateクッキーの有効期間（秒）。0なら600
}

// AuthHandler はGoogleログイン（PKCE）のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	profiles UserServiceInterface
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// profilesはログイン完了時のプロフィール作成に使用する。
func NewAuthHandler(service AuthServiceInterface, profiles UserServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.StateMaxAge <= 0 {
		config.StateMaxAge = 600
	}
	return &AuthHandler{
		service:  service,
		profiles: profiles,
		config:   config,
	}
}

type credentialResponse struct {
	UserID       string `json:"userId"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	IsNewUser    bool   `json:"isNewUser"`
}

// Login はGoogleログインを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.service.BeginGoogleLogin()
	if err != nil {
		slog.Error("failed to begin google login", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setStateCookie(w, state, h.config.StateMaxAge)

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback はGoogleからのコールバックを処理し、資格情報をJSONで返す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if state == "" || err != nil || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("stateが一致しません。"))
		return
	}
	h.setStateCookie(w, "", -1)

	// 2. 認可コードの取得。失敗した試行のベリファイアはここで破棄する
	if reason := query.Get("error"); reason != "" {
		h.service.AbandonGoogleLogin(state)
		msg, ok := oauthErrorMessages[reason]
		if !ok {
			reason, msg = "unknown", "認可に失敗しました。"
		}
		slog.Warn("google authorization failed", slog.String("reason", reason))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(msg))
		return
	}
	code := query.Get("code")
	if code == "" {
		h.service.AbandonGoogleLogin(state)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("認可コードがありません。"))
		return
	}

	// 3. コード交換とIdPへのサインイン
	cred, err := h.service.CompleteGoogleLogin(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownState) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("ログインの有効期限が切れました。"))
			return
		}
		slog.Error("google login failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewProviderFailureError("Googleログインに失敗しました。"))
		return
	}

	// 4. プロフィールの作成
	if h.profiles != nil {
		identity := cred.Identity
		if _, _, err := h.profiles.SyncSocialAuth(r.Context(), &identity, identity.Email, identity.DisplayName, string(model.ProviderGoogle)); err != nil {
			handleServiceError(w, err)
			return
		}
	}

	expiresIn := int64(time.Until(cred.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	writeJSON(w, http.StatusOK, credentialResponse{
		UserID:       cred.Identity.UID,
		IDToken:      cred.IDToken,
		RefreshToken: cred.RefreshToken,
		ExpiresIn:    expiresIn,
		IsNewUser:    cred.IsNewUser,
	})
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
