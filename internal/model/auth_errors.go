package model

import (
	"errors"
	"fmt"
)

// IdPとの対話で発生するエラー。
var (
	ErrMissingVerifier       = errors.New("pkce code verifier is missing")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrTooManyAttempts       = errors.New("too many attempts, try again later")
	ErrNetworkUnavailable    = errors.New("identity provider is unreachable")
	ErrProviderAlreadyLinked = errors.New("provider already linked")
	ErrCredentialInUse       = errors.New("credential already in use by another identity")
	ErrInvalidToken          = errors.New("invalid identity token")
	ErrNotSignedIn           = errors.New("not signed in")
)

// ストア層のエラー。
var (
	ErrSessionAlreadyEnded = errors.New("session already ended")
	ErrProfileNotFound     = errors.New("profile not found")
)

// TokenExchangeError は認可コードの交換に失敗したことを表す。
// 認可コードは1回限りのため自動リトライしない。
type TokenExchangeError struct {
	Reason string
	Err    error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %s", e.Reason)
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// ProviderRejectedError はIdPが要求を拒否したことを表す。
// CodeにはIdPのエラーコード（EMAIL_EXISTS, WEAK_PASSWORD等）が入る。
type ProviderRejectedError struct {
	Code    string
	Message string
}

func (e *ProviderRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity provider rejected request: %s", e.Code)
	}
	return fmt.Sprintf("identity provider rejected request: %s (%s)", e.Code, e.Message)
}
