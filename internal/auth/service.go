package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

// ErrUnknownState はstateが未登録・使用済み・期限切れのいずれかであることを表す。
var ErrUnknownState = errors.New("unknown or expired oauth state")

// CodeExchanger は認可URLの生成と認可コード交換のインターフェース。
type CodeExchanger interface {
	AuthCodeURL(state, redirectURI, verifier string) string
	Exchange(ctx context.Context, code, redirectURI, verifier string) (string, error)
}

// FederatedAuthenticator はフェデレーションIDトークンでのサインインを行う。
type FederatedAuthenticator interface {
	AuthenticateWithFederatedToken(ctx context.Context, kind model.ProviderKind, idToken string) (*model.Credential, error)
}

// Service はサーバー側で完結するGoogleログイン（PKCE）を提供する。
type Service struct {
	exchanger   CodeExchanger
	pending     *PendingExchanges
	federated   FederatedAuthenticator
	redirectURL string
}

// NewService はServiceを生成する。
func NewService(exchanger CodeExchanger, pending *PendingExchanges, federated FederatedAuthenticator, redirectURL string) *Service {
	return &Service{
		exchanger:   exchanger,
		pending:     pending,
		federated:   federated,
		redirectURL: redirectURL,
	}
}

// BeginGoogleLogin はPKCEベリファイアを登録し、Googleの認可URLとstateを返す。
func (s *Service) BeginGoogleLogin() (authURL, state string, err error) {
	pending, err := s.pending.Begin(s.redirectURL)
	if err != nil {
		return "", "", err
	}
	return s.exchanger.AuthCodeURL(pending.State, pending.RedirectURI, pending.Verifier), pending.State, nil
}

// AbandonGoogleLogin は認可が拒否された場合などにstateに紐付くベリファイアを破棄する。
// 未知のstateの場合は何もしない。
func (s *Service) AbandonGoogleLogin(state string) {
	s.pending.Take(state)
}

// CompleteGoogleLogin は認可コードをIDトークンに交換し、IdPにフェデレーションサインインする。
// stateに紐付くベリファイアは成否にかかわらず1回で破棄される。
func (s *Service) CompleteGoogleLogin(ctx context.Context, state, code string) (*model.Credential, error) {
	pending, ok := s.pending.Take(state)
	if !ok {
		return nil, ErrUnknownState
	}

	idToken, err := s.exchanger.Exchange(ctx, code, pending.RedirectURI, pending.Verifier)
	if err != nil {
		return nil, err
	}

	cred, err := s.federated.AuthenticateWithFederatedToken(ctx, model.ProviderGoogle, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in with google token: %w", err)
	}

	slog.Info("google login completed",
		slog.String("user_id", cred.Identity.UID),
		slog.Bool("new_user", cred.IsNewUser),
	)
	return cred, nil
}
