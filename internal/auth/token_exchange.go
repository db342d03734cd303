package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

const (
	defaultGoogleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
)

// GoogleOAuthConfig はGoogle OAuthクライアントの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string // 公開クライアントの場合は空

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
}

// TokenExchanger はPKCEを用いて認可コードをIDトークンに交換する。
type TokenExchanger struct {
	config     oauth2.Config
	httpClient *http.Client
}

// NewTokenExchanger はTokenExchangerを生成する。
// httpClientがnilの場合はhttp.DefaultClientを使う。
func NewTokenExchanger(config GoogleOAuthConfig, httpClient *http.Client) *TokenExchanger {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenExchanger{
		config: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL はS256チャレンジ付きの認可URLを生成する。
func (e *TokenExchanger) AuthCodeURL(state, redirectURI, verifier string) string {
	cfg := e.config
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange は認可コードとコードベリファイアをIDトークンに交換する。
// 認可コードは1回限りのためリトライしない。
func (e *TokenExchanger) Exchange(ctx context.Context, code, redirectURI, verifier string) (string, error) {
	if verifier == "" {
		return "", model.ErrMissingVerifier
	}

	cfg := e.config
	cfg.RedirectURL = redirectURI
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", &model.TokenExchangeError{Reason: exchangeFailureReason(err), Err: err}
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return "", &model.TokenExchangeError{Reason: "token response has no id_token"}
	}
	return idToken, nil
}

func exchangeFailureReason(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" {
			return fmt.Sprintf("provider rejected the code: %s", retrieveErr.ErrorCode)
		}
		if retrieveErr.Response != nil {
			return fmt.Sprintf("provider returned status %d", retrieveErr.Response.StatusCode)
		}
	}
	return "token endpoint unreachable"
}
