package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

// PendingExchanges は認可コード交換待ちのPKCEベリファイアをstate単位で保持する。
// エントリはTTL経過で失効し、Takeで取り出すと削除される。
type PendingExchanges struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, model.PendingCodeExchange]
	now   func() time.Time
}

// NewPendingExchanges はPendingExchangesを生成する。
// maxPendingを超えた場合は古いエントリから追い出される。
func NewPendingExchanges(maxPending int, ttl time.Duration) *PendingExchanges {
	return &PendingExchanges{
		cache: expirable.NewLRU[string, model.PendingCodeExchange](maxPending, nil, ttl),
		now:   time.Now,
	}
}

// Begin は新しいstateとベリファイアを生成して登録する。
func (p *PendingExchanges) Begin(redirectURI string) (model.PendingCodeExchange, error) {
	state, err := generateState()
	if err != nil {
		return model.PendingCodeExchange{}, fmt.Errorf("failed to generate state: %w", err)
	}

	pending := model.PendingCodeExchange{
		State:       state,
		Verifier:    oauth2.GenerateVerifier(),
		RedirectURI: redirectURI,
		CreatedAt:   p.now(),
	}

	p.mu.Lock()
	p.cache.Add(state, pending)
	p.mu.Unlock()
	return pending, nil
}

// Take はstateに対応するエントリを取り出して削除する。
// 同じstateで2回目以降に呼んだ場合はfalseを返す。
func (p *PendingExchanges) Take(state string) (model.PendingCodeExchange, bool) {
	if state == "" {
		return model.PendingCodeExchange{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pending, ok := p.cache.Get(state)
	if !ok {
		return model.PendingCodeExchange{}, false
	}
	p.cache.Remove(state)
	return pending, true
}

// Len は保持中のエントリ数を返す。
func (p *PendingExchanges) Len() int {
	return p.cache.Len()
}

// generateState は暗号的に安全なstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
