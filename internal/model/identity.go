// Package model はドメインモデルを定義する。
package model

import (
	"slices"
	"time"
)

// ProviderKind はIdentityに紐付くプロバイダーの種別を表す。
// 値はIdentity Toolkitのproviderをそのまま使用する。
type ProviderKind string

const (
	// ProviderPassword はメールアドレス+パスワード認証を表す。
	ProviderPassword ProviderKind = "password"
	// ProviderGoogle はGoogleフェデレーション認証を表す。
	ProviderGoogle ProviderKind = "google.com"
)

// IsFederated はメールの所有を保証するフェデレーションプロバイダーかどうかを返す。
// anonymous、custom、phone等はメールを保証しないため含めない。
func (k ProviderKind) IsFederated() bool {
	switch k {
	case ProviderGoogle:
		return true
	default:
		return false
	}
}

// Identity はIdPが発行した認証済みプリンシパルを表す。
// IdPが所有し、このシステムからはプロバイダー追加以外で変更しない。
type Identity struct {
	UID            string
	Email          string
	EmailVerified  bool
	DisplayName    string
	Providers      []ProviderKind // 紐付け済みのプロバイダー
	SignInProvider ProviderKind   // 今回の認証を行ったプロバイダー
}

// HasProvider は指定プロバイダーが紐付け済みかどうかを返す。
func (i *Identity) HasProvider(kind ProviderKind) bool {
	return slices.Contains(i.Providers, kind)
}

// UsableForProtectedActions は保護された操作に使えるIdentityかどうかを返す。
// パスワードで認証しメール未確認のものは使えない。
// フェデレーション認証はプロバイダーがメールの所有を保証するため常に確認済みとして扱う。
func (i *Identity) UsableForProtectedActions() bool {
	if i.SignInProvider.IsFederated() {
		return true
	}
	return i.EmailVerified
}

// Credential はサインイン結果として得られる資格情報。
type Credential struct {
	Identity     Identity
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
	IsNewUser    bool
}

// PendingCodeExchange は1回のサインイン試行に紐付くPKCE verifierを保持する。
// メモリ上にのみ存在し、交換の成否にかかわらず1回で破棄する。
type PendingCodeExchange struct {
	State       string
	Verifier    string
	RedirectURI string
	CreatedAt   time.Time
}
