// Package idp はGoogle Identity Toolkit（Firebase Authentication）のRESTクライアントを提供する。
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/auth"
	"github.com/hitoshi/digitalcoffee/internal/model"
)

const (
	defaultBaseURL = "https://identitytoolkit.googleapis.com"

	opSignUp         = "accounts:signUp"
	opSignInPassword = "accounts:signInWithPassword"
	opSignInIdp      = "accounts:signInWithIdp"
	opUpdate         = "accounts:update"
	opLookup         = "accounts:lookup"
	opSendOobCode    = "accounts:sendOobCode"

	maxResponseSize = 1 << 20
)

// Config はClientの設定。
type Config struct {
	APIKey    string
	ProjectID string
	BaseURL   string // テストやエミュレータ向けに上書き可能
	// RequestURI はsignInWithIdpに渡すリクエスト元URI。
	RequestURI string
}

// Client はIdentity Toolkit REST APIのクライアント。
// トークン検証はverifierに委譲する。
type Client struct {
	config     Config
	httpClient *http.Client
	verifier   *TokenVerifier
}

// NewClient はClientを生成する。
// httpClientには外部向けのSSRF対策済みクライアントを渡す想定。
func NewClient(config Config, httpClient *http.Client, verifier *TokenVerifier) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.RequestURI == "" {
		config.RequestURI = "http://localhost"
	}
	return &Client{config: config, httpClient: httpClient, verifier: verifier}
}

// tokenResponse はsignUp/signIn系エンドポイントの共通レスポンス。
type tokenResponse struct {
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
	IDToken       string `json:"idToken"`
	RefreshToken  string `json:"refreshToken"`
	ExpiresIn     string `json:"expiresIn"`
	IsNewUser     bool   `json:"isNewUser"`
}

type providerUserInfo struct {
	ProviderID string `json:"providerId"`
}

type lookupResponse struct {
	Users []struct {
		LocalID          string             `json:"localId"`
		Email            string             `json:"email"`
		EmailVerified    bool               `json:"emailVerified"`
		DisplayName      string             `json:"displayName"`
		ProviderUserInfo []providerUserInfo `json:"providerUserInfo"`
	} `json:"users"`
}

// CreateIdentity はメールアドレスとパスワードで新しいIdentityを作成する。
func (c *Client) CreateIdentity(ctx context.Context, email, password string) (*model.Credential, error) {
	var resp tokenResponse
	err := c.post(ctx, opSignUp, map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	cred := c.credential(resp, model.ProviderPassword)
	cred.IsNewUser = true
	cred.Identity.Providers = []model.ProviderKind{model.ProviderPassword}
	return cred, nil
}

// Authenticate はメールアドレスとパスワードで認証する。
// signInWithPasswordはemailVerifiedを返さないため、続けてlookupで補完する。
func (c *Client) Authenticate(ctx context.Context, email, password string) (*model.Credential, error) {
	var resp tokenResponse
	err := c.post(ctx, opSignInPassword, map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.completeWithLookup(ctx, resp, model.ProviderPassword)
}

// AuthenticateWithFederatedToken はフェデレーションIDトークンで認証する。
// 新規・既存のIdentityを区別せず同じ手順で扱う。
func (c *Client) AuthenticateWithFederatedToken(ctx context.Context, kind model.ProviderKind, idToken string) (*model.Credential, error) {
	postBody := url.Values{
		"id_token":   {idToken},
		"providerId": {string(kind)},
	}
	var resp tokenResponse
	err := c.post(ctx, opSignInIdp, map[string]any{
		"postBody":            postBody.Encode(),
		"requestUri":          c.config.RequestURI,
		"returnIdpCredential": true,
		"returnSecureToken":   true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.completeWithLookup(ctx, resp, kind)
}

// LinkPassword は認証済みIdentityにパスワード認証を追加する。
func (c *Client) LinkPassword(ctx context.Context, idToken, email, password string) (*model.Credential, error) {
	var resp tokenResponse
	err := c.post(ctx, opUpdate, map[string]any{
		"idToken":           idToken,
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.completeWithLookup(ctx, resp, model.ProviderPassword)
}

// LookupIdentity はIDトークンの持ち主のIdentityを取得する。
func (c *Client) LookupIdentity(ctx context.Context, idToken string) (*model.Identity, error) {
	var resp lookupResponse
	if err := c.post(ctx, opLookup, map[string]any{"idToken": idToken}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, fmt.Errorf("%s: %w", opLookup, model.ErrInvalidToken)
	}
	u := resp.Users[0]
	identity := &model.Identity{
		UID:           u.LocalID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		DisplayName:   u.DisplayName,
	}
	for _, p := range u.ProviderUserInfo {
		identity.Providers = append(identity.Providers, model.ProviderKind(p.ProviderID))
	}
	return identity, nil
}

// VerifyToken はIDトークンを検証する。
func (c *Client) VerifyToken(ctx context.Context, idToken string) (*model.Identity, error) {
	return c.verifier.VerifyToken(ctx, idToken)
}

// SendVerificationEmail はメールアドレス確認メールを送信する。
func (c *Client) SendVerificationEmail(ctx context.Context, idToken string) error {
	return c.post(ctx, opSendOobCode, map[string]any{
		"requestType": "VERIFY_EMAIL",
		"idToken":     idToken,
	}, nil)
}

// SendPasswordReset はパスワード再設定メールを送信する。
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.post(ctx, opSendOobCode, map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// completeWithLookup はトークンレスポンスにlookup結果を合わせてCredentialを組み立てる。
func (c *Client) completeWithLookup(ctx context.Context, resp tokenResponse, signedInWith model.ProviderKind) (*model.Credential, error) {
	cred := c.credential(resp, signedInWith)
	identity, err := c.LookupIdentity(ctx, resp.IDToken)
	if err != nil {
		return nil, err
	}
	identity.SignInProvider = signedInWith
	cred.Identity = *identity
	return cred, nil
}

func (c *Client) credential(resp tokenResponse, signedInWith model.ProviderKind) *model.Credential {
	cred := &model.Credential{
		Identity: model.Identity{
			UID:            resp.LocalID,
			Email:          resp.Email,
			EmailVerified:  resp.EmailVerified,
			DisplayName:    resp.DisplayName,
			SignInProvider: signedInWith,
		},
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		IsNewUser:    resp.IsNewUser,
	}
	if secs, err := strconv.Atoi(resp.ExpiresIn); err == nil {
		cred.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return cred
}

// post はエンドポイントにJSONをPOSTし、レスポンスをoutにデコードする。
// 通信失敗と5xxはmodel.ErrNetworkUnavailable、4xxはmapErrorで変換する。
func (c *Client) post(ctx context.Context, op string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: failed to encode request: %w", op, err)
	}

	endpoint := fmt.Sprintf("%s/v1/%s?key=%s", c.config.BaseURL, op, url.QueryEscape(c.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, model.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, model.ErrNetworkUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: %w: status %d", op, model.ErrNetworkUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorBody
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error.Message == "" {
			return &model.ProviderRejectedError{Code: strconv.Itoa(resp.StatusCode)}
		}
		return mapError(op, apiErr.Error.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

// compile-time interface check
var _ auth.IdentityProvider = (*Client)(nil)
