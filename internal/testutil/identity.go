package testutil

import (
	"context"
	"sync"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

// FakeIdentityProvider は関数フィールドで振る舞いを差し替えられるIdPのモック。
// 未設定のメソッドはゼロ値を返す。呼び出し回数はメソッド名ごとに記録する。
type FakeIdentityProvider struct {
	CreateIdentityFn                 func(ctx context.Context, email, password string) (*model.Credential, error)
	AuthenticateFn                   func(ctx context.Context, email, password string) (*model.Credential, error)
	AuthenticateWithFederatedTokenFn func(ctx context.Context, kind model.ProviderKind, idToken string) (*model.Credential, error)
	LinkPasswordFn                   func(ctx context.Context, idToken, email, password string) (*model.Credential, error)
	LookupIdentityFn                 func(ctx context.Context, idToken string) (*model.Identity, error)
	VerifyTokenFn                    func(ctx context.Context, idToken string) (*model.Identity, error)
	SendVerificationEmailFn          func(ctx context.Context, idToken string) error
	SendPasswordResetFn              func(ctx context.Context, email string) error

	mu    sync.Mutex
	calls map[string]int
}

// Calls はメソッドの呼び出し回数を返す。
func (f *FakeIdentityProvider) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeIdentityProvider) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

func (f *FakeIdentityProvider) CreateIdentity(ctx context.Context, email, password string) (*model.Credential, error) {
	f.record("CreateIdentity")
	if f.CreateIdentityFn != nil {
		return f.CreateIdentityFn(ctx, email, password)
	}
	return nil, nil
}

func (f *FakeIdentityProvider) Authenticate(ctx context.Context, email, password string) (*model.Credential, error) {
	f.record("Authenticate")
	if f.AuthenticateFn != nil {
		return f.AuthenticateFn(ctx, email, password)
	}
	return nil, nil
}

func (f *FakeIdentityProvider) AuthenticateWithFederatedToken(ctx context.Context, kind model.ProviderKind, idToken string) (*model.Credential, error) {
	f.record("AuthenticateWithFederatedToken")
	if f.AuthenticateWithFederatedTokenFn != nil {
		return f.AuthenticateWithFederatedTokenFn(ctx, kind, idToken)
	}
	return nil, nil
}

func (f *FakeIdentityProvider) LinkPassword(ctx context.Context, idToken, email, password string) (*model.Credential, error) {
	f.record("LinkPassword")
	if f.LinkPasswordFn != nil {
		return f.LinkPasswordFn(ctx, idToken, email, password)
	}
	return nil, nil
}

func (f *FakeIdentityProvider) LookupIdentity(ctx context.Context, idToken string) (*model.Identity, error) {
	f.record("LookupIdentity")
	if f.LookupIdentityFn != nil {
		return f.LookupIdentityFn(ctx, idToken)
	}
	return nil, nil
}

func (f *FakeIdentityProvider) VerifyToken(ctx context.Context, idToken string) (*model.Identity, error) {
	f.record("VerifyToken")
	if f.VerifyTokenFn != nil {
		return f.VerifyTokenFn(ctx, idToken)
	}
	return nil, nil
}

func (f *FakeIdentityProvider) SendVerificationEmail(ctx context.Context, idToken string) error {
	f.record("SendVerificationEmail")
	if f.SendVerificationEmailFn != nil {
		return f.SendVerificationEmailFn(ctx, idToken)
	}
	return nil
}

func (f *FakeIdentityProvider) SendPasswordReset(ctx context.Context, email string) error {
	f.record("SendPasswordReset")
	if f.SendPasswordResetFn != nil {
		return f.SendPasswordResetFn(ctx, email)
	}
	return nil
}

// TokenVerifierFunc は関数をトークン検証器として使うためのアダプター。
type TokenVerifierFunc func(ctx context.Context, idToken string) (*model.Identity, error)

func (f TokenVerifierFunc) VerifyToken(ctx context.Context, idToken string) (*model.Identity, error) {
	return f(ctx, idToken)
}

// StaticVerifier はトークン文字列からIdentityを引く検証器を返す。
// 未登録のトークンはmodel.ErrInvalidTokenになる。
func StaticVerifier(identities map[string]*model.Identity) TokenVerifierFunc {
	return func(_ context.Context, idToken string) (*model.Identity, error) {
		identity, ok := identities[idToken]
		if !ok {
			return nil, model.ErrInvalidToken
		}
		cp := *identity
		return &cp, nil
	}
}
