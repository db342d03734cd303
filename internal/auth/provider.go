// Package auth はPKCEによる認可コード交換、IdP操作のブローカー、Googleログインフローを提供する。
package auth

import (
	"context"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

// IdentityProvider は外部IdPの操作インターフェース。
// エラーはmodelパッケージのセンチネル/型付きエラーで返す。
type IdentityProvider interface {
	// CreateIdentity はメールアドレスとパスワードで新しいIdentityを作成する。
	CreateIdentity(ctx context.Context, email, password string) (*model.Credential, error)
	// Authenticate はメールアドレスとパスワードで認証する。
	Authenticate(ctx context.Context, email, password string) (*model.Credential, error)
	// AuthenticateWithFederatedToken はフェデレーションIDトークンで認証する。
	// 初回の場合IdP側でIdentityが作成される。
	AuthenticateWithFederatedToken(ctx context.Context, kind model.ProviderKind, idToken string) (*model.Credential, error)
	// LinkPassword は認証済みIdentityにパスワード認証を追加する。
	LinkPassword(ctx context.Context, idToken, email, password string) (*model.Credential, error)
	// LookupIdentity はIDトークンの持ち主のIdentityを取得する。
	LookupIdentity(ctx context.Context, idToken string) (*model.Identity, error)
	// VerifyToken はIDトークンの署名と有効期限を検証する。
	VerifyToken(ctx context.Context, idToken string) (*model.Identity, error)
	// SendVerificationEmail はメールアドレス確認メールを送信する。
	SendVerificationEmail(ctx context.Context, idToken string) error
	// SendPasswordReset はパスワード再設定メールを送信する。
	SendPasswordReset(ctx context.Context, email string) error
}
