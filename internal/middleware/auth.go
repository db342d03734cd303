// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/digitalcoffee/internal/metrics"
	"github.com/hitoshi/digitalcoffee/internal/model"
)

const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに検証済みIdentityを格納するためのキー。
var identityContextKey = contextKey("identity")

// TokenVerifier はIDトークンの検証に必要なインターフェース。
// auth.IdentityProviderの部分集合として定義する。
type TokenVerifier interface {
	VerifyToken(ctx context.Context, idToken string) (*model.Identity, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 検証済みIdentityをリクエストコンテキストに注入する。
// ヘッダー不備は401 UNAUTHENTICATED、検証失敗は401 INVALID_TOKEN、
// 検証器に到達できない場合は500 PROVIDER_FAILUREを返す。ストアには触れない。
func NewAuthMiddleware(verifier TokenVerifier, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := parseBearer(r.Header.Get("Authorization"))
			if !ok {
				collector.RecordAuthFailure("missing_token")
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			identity, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, model.ErrNetworkUnavailable) {
					slog.Error("token verification unavailable",
						slog.String("error", err.Error()),
					)
					collector.RecordAuthFailure("verifier_unavailable")
					WriteErrorResponse(w, http.StatusInternalServerError, model.NewProviderFailureError("token verification is temporarily unavailable"))
					return
				}
				collector.RecordAuthFailure("invalid_token")
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
				return
			}

			setRequestUserID(r.Context(), identity.UID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// NewVerifiedIdentityMiddleware は保護された操作に使えないIdentityを403で拒否するミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func NewVerifiedIdentityMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := IdentityFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			if !identity.UsableForProtectedActions() {
				WriteErrorResponse(w, http.StatusForbidden, model.NewEmailNotVerifiedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseBearer は"Bearer <token>"形式のヘッダーからトークンを取り出す。
// スキームは大文字小文字を区別し、区切りは半角スペース1つ、トークンは空白を含まないこと。
func parseBearer(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || token == "" {
		return "", false
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return "", false
	}
	return token, true
}

// IdentityFromContext はリクエストコンテキストから検証済みIdentityを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil || identity.UID == "" {
		return nil, fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, err := IdentityFromContext(ctx)
	if err != nil {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.UID, nil
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
