package idp

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

const (
	defaultCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	issuerPrefix    = "https://securetoken.google.com/"
	defaultCertsTTL = time.Hour
	// minRefreshInterval は未知のkidによる再取得の最短間隔。
	minRefreshInterval = time.Minute
	identitiesEmail    = "email"
)

// TokenVerifier はIdentity Toolkitが発行したIDトークン（RS256 JWT）を検証する。
// 公開鍵証明書はCache-Controlのmax-ageの間キャッシュする。
// 同時に発生した再取得は1回にまとめる。
type TokenVerifier struct {
	projectID  string
	certsURL   string
	httpClient *http.Client
	now        func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	fetchedAt time.Time
}

// NewTokenVerifier はTokenVerifierを生成する。certsURLが空の場合はGoogleの公開エンドポイントを使う。
func NewTokenVerifier(projectID, certsURL string, httpClient *http.Client) *TokenVerifier {
	if certsURL == "" {
		certsURL = defaultCertsURL
	}
	return &TokenVerifier{
		projectID:  projectID,
		certsURL:   certsURL,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// idTokenClaims はIDトークンのクレーム。
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Firebase      struct {
		SignInProvider string              `json:"sign_in_provider"`
		Identities     map[string][]string `json:"identities"`
	} `json:"firebase"`
}

// VerifyToken はIDトークンを検証し、Identityを返す。
// 署名・期限・audience・issuerのいずれかが不正な場合はmodel.ErrInvalidTokenを返す。
// 公開鍵が取得できない場合はmodel.ErrNetworkUnavailableを返す。
func (v *TokenVerifier) VerifyToken(ctx context.Context, raw string) (*model.Identity, error) {
	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token has no kid header")
			}
			return v.publicKey(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(issuerPrefix+v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, model.ErrNetworkUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", model.ErrInvalidToken)
	}

	identity := &model.Identity{
		UID:            claims.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		DisplayName:    claims.Name,
		SignInProvider: model.ProviderKind(claims.Firebase.SignInProvider),
	}
	if identity.SignInProvider != "" {
		identity.Providers = append(identity.Providers, identity.SignInProvider)
	}
	for provider := range claims.Firebase.Identities {
		kind := model.ProviderKind(provider)
		if provider == identitiesEmail || identity.HasProvider(kind) {
			continue
		}
		identity.Providers = append(identity.Providers, kind)
	}
	return identity, nil
}

// publicKey はkidに対応する公開鍵を返す。
// キャッシュに無い場合はキーローテーションを考慮して再取得するが、
// 直近minRefreshInterval以内に取得済みなら再取得せずに失敗する。
func (v *TokenVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := v.now().Before(v.expiresAt)
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}
	if fresh && v.recentlyFetched() {
		return nil, fmt.Errorf("unknown key id: %s", kid)
	}

	_, err, _ := v.group.Do("certs", func() (any, error) {
		// 待っている間に他の呼び出しが取得を終えている場合がある
		if v.recentlyFetched() {
			return nil, nil
		}
		return nil, v.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id: %s", kid)
	}
	return key, nil
}

// recentlyFetched は有効な証明書をminRefreshInterval以内に取得済みかどうかを返す。
func (v *TokenVerifier) recentlyFetched() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	now := v.now()
	return !v.fetchedAt.IsZero() && now.Before(v.expiresAt) && now.Sub(v.fetchedAt) < minRefreshInterval
}

// refresh は公開鍵証明書を取得し直す。
func (v *TokenVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create certs request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching certs: %v", model.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: certs endpoint returned status %d", model.ErrNetworkUnavailable, resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&certs); err != nil {
		return fmt.Errorf("%w: decoding certs: %v", model.ErrNetworkUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := parseRSACertificate(certPEM)
		if err != nil {
			return fmt.Errorf("failed to parse cert %s: %w", kid, err)
		}
		keys[kid] = key
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = v.now()
	v.expiresAt = v.fetchedAt.Add(cacheMaxAge(resp.Header.Get("Cache-Control")))
	v.mu.Unlock()
	return nil
}

func parseRSACertificate(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate does not hold an RSA key")
	}
	return key, nil
}

// cacheMaxAge はCache-Controlヘッダーからmax-ageを取り出す。
func cacheMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultCertsTTL
}
