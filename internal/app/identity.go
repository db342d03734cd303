package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/auth"
	"github.com/hitoshi/digitalcoffee/internal/model"
)

// credentialOutput はサインイン系コマンドの出力。
// idTokenはAPIのAuthorization: Bearerにそのまま使える。
type credentialOutput struct {
	UserID        string    `json:"userId"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	Provider      string    `json:"provider"`
	State         string    `json:"state"`
	IDToken       string    `json:"idToken,omitempty"`
	RefreshToken  string    `json:"refreshToken,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt,omitzero"`
	IsNewUser     bool      `json:"isNewUser,omitempty"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printCurrent はBrokerが保持する現在の資格情報を出力する。
func printCurrent(w io.Writer, broker *auth.Broker) error {
	cred, ok := broker.Current()
	if !ok {
		return model.ErrNotSignedIn
	}
	return printJSON(w, credentialOutput{
		UserID:        cred.Identity.UID,
		Email:         cred.Identity.Email,
		EmailVerified: cred.Identity.EmailVerified,
		Provider:      string(cred.Identity.SignInProvider),
		State:         broker.State().String(),
		IDToken:       cred.IDToken,
		RefreshToken:  cred.RefreshToken,
		ExpiresAt:     cred.ExpiresAt,
		IsNewUser:     cred.IsNewUser,
	})
}

// readSecret はflagの値が空の場合に入力から1行読み込む。
func readSecret(in io.Reader, value, name string) (string, error) {
	if value != "" {
		return value, nil
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		return "", fmt.Errorf("%s is required", name)
	}
	secret := strings.TrimRight(scanner.Text(), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return secret, nil
}

// describeIdentityError はIdPのエラーを利用者向けの文言に変換する。
func describeIdentityError(err error) error {
	var rejected *model.ProviderRejectedError
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		return fmt.Errorf("メールアドレスまたはパスワードが正しくありません: %w", err)
	case errors.Is(err, model.ErrTooManyAttempts):
		return fmt.Errorf("試行回数が多すぎます。しばらく待ってから再度お試しください: %w", err)
	case errors.Is(err, model.ErrNetworkUnavailable):
		return fmt.Errorf("認証サーバーに接続できません: %w", err)
	case errors.Is(err, model.ErrProviderAlreadyLinked):
		return fmt.Errorf("パスワード認証は既に追加されています: %w", err)
	case errors.Is(err, model.ErrCredentialInUse):
		return fmt.Errorf("このメールアドレスは別のアカウントで使用されています: %w", err)
	case errors.Is(err, model.ErrInvalidToken):
		return fmt.Errorf("IDトークンが無効か期限切れです: %w", err)
	case errors.As(err, &rejected):
		return fmt.Errorf("認証サーバーが要求を拒否しました (%s): %w", rejected.Code, err)
	default:
		return err
	}
}

// runSignUp はIdentityを作成し、資格情報を出力する。
// メール未確認の場合は確認メールの送信完了まで待つ。
func runSignUp(ctx context.Context, w io.Writer, provider auth.IdentityProvider, email, password string) error {
	broker := auth.NewBroker(provider)
	if _, err := broker.SignUp(ctx, email, password); err != nil {
		return describeIdentityError(err)
	}
	broker.Wait()
	return printCurrent(w, broker)
}

// runSignIn はメールアドレスとパスワードでサインインし、資格情報を出力する。
func runSignIn(ctx context.Context, w io.Writer, provider auth.IdentityProvider, email, password string) error {
	broker := auth.NewBroker(provider)
	if _, err := broker.SignIn(ctx, email, password); err != nil {
		return describeIdentityError(err)
	}
	return printCurrent(w, broker)
}

// runLinkPassword はIDトークンの持ち主にパスワード認証を追加する。
func runLinkPassword(ctx context.Context, w io.Writer, provider auth.IdentityProvider, idToken, email, password string) error {
	broker := auth.NewBroker(provider)
	if _, err := broker.Restore(ctx, idToken); err != nil {
		return describeIdentityError(err)
	}
	if _, err := broker.LinkPassword(ctx, email, password); err != nil {
		return describeIdentityError(err)
	}
	broker.Wait()
	return printCurrent(w, broker)
}

// runProviders はIDトークンの持ち主に紐付くプロバイダーを出力する。
func runProviders(ctx context.Context, w io.Writer, provider auth.IdentityProvider, idToken string) error {
	broker := auth.NewBroker(provider)
	if _, err := broker.Restore(ctx, idToken); err != nil {
		return describeIdentityError(err)
	}
	providers, err := broker.LinkedProviders(ctx)
	if err != nil {
		return describeIdentityError(err)
	}
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, string(p))
	}
	return printJSON(w, map[string][]string{"providers": names})
}

// runPasswordReset はパスワード再設定メールを送信する。
func runPasswordReset(ctx context.Context, w io.Writer, provider auth.IdentityProvider, email string) error {
	if err := provider.SendPasswordReset(ctx, email); err != nil {
		return describeIdentityError(err)
	}
	_, err := fmt.Fprintf(w, "password reset email sent to %s\n", email)
	return err
}

// brokerFederation はBrokerをauth.FederatedAuthenticatorとして使うアダプター。
// Googleログインの結果をBrokerの認証状態に反映する。
type brokerFederation struct {
	broker *auth.Broker
}

func (b brokerFederation) AuthenticateWithFederatedToken(ctx context.Context, kind model.ProviderKind, idToken string) (*model.Credential, error) {
	return b.broker.SignInWithFederatedToken(ctx, kind, idToken)
}

var _ auth.FederatedAuthenticator = brokerFederation{}
