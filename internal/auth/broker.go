package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

// verificationTimeout は確認メール送信1回あたりの上限時間。
const verificationTimeout = 30 * time.Second

// eventBuffer はEventsが返すチャネルのバッファ長。
const eventBuffer = 16

// AuthState はクライアントから見た認証状態を表す。
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAuthenticating
	StateAuthenticatedUnverified
	StateAuthenticatedVerified
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticatedUnverified:
		return "authenticated_unverified"
	case StateAuthenticatedVerified:
		return "authenticated_verified"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// Authenticated は認証済み状態かどうかを返す。
func (s AuthState) Authenticated() bool {
	return s == StateAuthenticatedUnverified || s == StateAuthenticatedVerified
}

// AuthEvent は状態遷移の通知。Identityは遷移後に認証済みの場合のみ設定される。
type AuthEvent struct {
	Previous AuthState
	Current  AuthState
	Identity *model.Identity
}

// SubscriptionToken はSubscribeが返す購読の識別子。
type SubscriptionToken uint64

type subscriber struct {
	token   SubscriptionToken
	handler func(AuthEvent)
}

// Broker はIdPの操作を仲介し、現在の資格情報と認証状態を保持する。
// 状態遷移は購読者へ同期的に通知される。
type Broker struct {
	provider IdentityProvider

	mu          sync.Mutex
	state       AuthState
	current     *model.Credential
	nextToken   SubscriptionToken
	subscribers []subscriber

	background sync.WaitGroup
}

// NewBroker はBrokerを生成する。
func NewBroker(provider IdentityProvider) *Broker {
	return &Broker{provider: provider}
}

// State は現在の認証状態を返す。
func (b *Broker) State() AuthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Current は現在の資格情報のコピーを返す。
func (b *Broker) Current() (*model.Credential, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil, false
	}
	cred := *b.current
	return &cred, true
}

// Subscribe は状態遷移のハンドラーを登録する。
// ハンドラーはロック解放後に登録順で呼ばれる。
func (b *Broker) Subscribe(handler func(AuthEvent)) SubscriptionToken {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextToken++
	b.subscribers = append(b.subscribers, subscriber{token: b.nextToken, handler: handler})
	return b.nextToken
}

// Unsubscribe は購読を解除する。未登録のトークンの場合はfalseを返す。
func (b *Broker) Unsubscribe(token SubscriptionToken) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s.token == token {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// Events は状態遷移をチャネルで受け取るためのアダプター。
// ctxが終了すると購読を解除してチャネルを閉じる。
// 受信側が詰まっている間の通知は破棄される。
func (b *Broker) Events(ctx context.Context) <-chan AuthEvent {
	ch := make(chan AuthEvent, eventBuffer)
	var closeOnce sync.Once
	var mu sync.Mutex
	closed := false

	token := b.Subscribe(func(ev AuthEvent) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			slog.Warn("auth event dropped", slog.String("state", ev.Current.String()))
		}
	})

	go func() {
		<-ctx.Done()
		b.Unsubscribe(token)
		closeOnce.Do(func() {
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}()
	return ch
}

// SignUp はメールアドレスとパスワードでIdentityを作成しサインインする。
// メール未確認の場合は確認メールをバックグラウンドで送信する。
func (b *Broker) SignUp(ctx context.Context, email, password string) (*model.Identity, error) {
	cred, err := b.attempt(ctx, func(ctx context.Context) (*model.Credential, error) {
		return b.provider.CreateIdentity(ctx, email, password)
	})
	if err != nil {
		return nil, err
	}
	if !cred.Identity.EmailVerified {
		b.sendVerificationAsync(ctx, cred.IDToken)
	}
	return &cred.Identity, nil
}

// SignIn はメールアドレスとパスワードでサインインする。
func (b *Broker) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	cred, err := b.attempt(ctx, func(ctx context.Context) (*model.Credential, error) {
		return b.provider.Authenticate(ctx, email, password)
	})
	if err != nil {
		return nil, err
	}
	return &cred.Identity, nil
}

// SignInWithFederatedToken はフェデレーションIDトークンでサインインする。
// 初回・2回目以降を区別せずに扱う。
func (b *Broker) SignInWithFederatedToken(ctx context.Context, kind model.ProviderKind, idToken string) (*model.Credential, error) {
	cred, err := b.attempt(ctx, func(ctx context.Context) (*model.Credential, error) {
		return b.provider.AuthenticateWithFederatedToken(ctx, kind, idToken)
	})
	if err != nil {
		return nil, err
	}
	out := *cred
	return &out, nil
}

// Restore は発行済みのIDトークンから認証状態を復元する。
func (b *Broker) Restore(ctx context.Context, idToken string) (*model.Identity, error) {
	cred, err := b.attempt(ctx, func(ctx context.Context) (*model.Credential, error) {
		identity, err := b.provider.VerifyToken(ctx, idToken)
		if err != nil {
			return nil, err
		}
		return &model.Credential{Identity: *identity, IDToken: idToken}, nil
	})
	if err != nil {
		return nil, err
	}
	return &cred.Identity, nil
}

// LinkPassword は現在のIdentityにパスワード認証を追加する。
// 紐付け済みかどうかはIdPの最新のプロバイダー一覧で判定する。
func (b *Broker) LinkPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	current, ok := b.Current()
	if !ok {
		return nil, model.ErrNotSignedIn
	}

	live, err := b.provider.LookupIdentity(ctx, current.IDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if live.HasProvider(model.ProviderPassword) {
		return nil, model.ErrProviderAlreadyLinked
	}

	cred, err := b.provider.LinkPassword(ctx, current.IDToken, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to link password: %w", err)
	}
	cred.Identity.SignInProvider = current.Identity.SignInProvider
	if cred.RefreshToken == "" {
		cred.RefreshToken = current.RefreshToken
	}

	b.mu.Lock()
	if b.current == nil || b.current.Identity.UID != current.Identity.UID {
		b.mu.Unlock()
		return nil, model.ErrNotSignedIn
	}
	prev := b.state
	b.current = cred
	b.state = stateFor(cred)
	ev := AuthEvent{Previous: prev, Current: b.state, Identity: &cred.Identity}
	subs := b.snapshotSubscribers()
	b.mu.Unlock()

	if ev.Previous != ev.Current {
		notify(subs, ev)
	}
	if !cred.Identity.EmailVerified {
		b.sendVerificationAsync(ctx, cred.IDToken)
	}
	identity := cred.Identity
	return &identity, nil
}

// LinkedProviders は現在のIdentityに紐付くプロバイダー一覧をIdPから取得する。
func (b *Broker) LinkedProviders(ctx context.Context) ([]model.ProviderKind, error) {
	current, ok := b.Current()
	if !ok {
		return nil, model.ErrNotSignedIn
	}
	identity, err := b.provider.LookupIdentity(ctx, current.IDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	return identity.Providers, nil
}

// SignOut は現在の資格情報を破棄する。未認証の場合は何もしない。
func (b *Broker) SignOut() {
	b.mu.Lock()
	if b.state == StateUnauthenticated {
		b.mu.Unlock()
		return
	}
	prev := b.state
	b.state = StateUnauthenticated
	b.current = nil
	subs := b.snapshotSubscribers()
	b.mu.Unlock()

	notify(subs, AuthEvent{Previous: prev, Current: StateUnauthenticated})
}

// Wait はバックグラウンドで送信中の確認メールの完了を待つ。
func (b *Broker) Wait() {
	b.background.Wait()
}

// attempt は認証中状態に遷移してsignInを実行し、結果に応じて状態を確定する。
// 失敗した場合は直前の状態と資格情報に戻す。
func (b *Broker) attempt(ctx context.Context, signIn func(context.Context) (*model.Credential, error)) (*model.Credential, error) {
	b.mu.Lock()
	prev := b.state
	b.state = StateAuthenticating
	subs := b.snapshotSubscribers()
	b.mu.Unlock()
	notify(subs, AuthEvent{Previous: prev, Current: StateAuthenticating})

	cred, err := signIn(ctx)

	b.mu.Lock()
	var ev AuthEvent
	if err != nil {
		b.state = prev
		ev = AuthEvent{Previous: StateAuthenticating, Current: prev}
		if b.current != nil {
			identity := b.current.Identity
			ev.Identity = &identity
		}
	} else {
		b.current = cred
		b.state = stateFor(cred)
		identity := cred.Identity
		ev = AuthEvent{Previous: StateAuthenticating, Current: b.state, Identity: &identity}
	}
	subs = b.snapshotSubscribers()
	b.mu.Unlock()
	notify(subs, ev)

	if err != nil {
		return nil, err
	}
	return cred, nil
}

// sendVerificationAsync は確認メールをバックグラウンドで送信する。失敗はログのみ。
func (b *Broker) sendVerificationAsync(ctx context.Context, idToken string) {
	ctx = context.WithoutCancel(ctx)
	b.background.Add(1)
	go func() {
		defer b.background.Done()
		ctx, cancel := context.WithTimeout(ctx, verificationTimeout)
		defer cancel()
		if err := b.provider.SendVerificationEmail(ctx, idToken); err != nil {
			slog.Warn("failed to send verification email", slog.String("error", err.Error()))
		}
	}()
}

// snapshotSubscribers はb.muを保持した状態で呼ぶこと。
func (b *Broker) snapshotSubscribers() []subscriber {
	subs := make([]subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	return subs
}

func notify(subs []subscriber, ev AuthEvent) {
	for _, s := range subs {
		s.handler(ev)
	}
}

func stateFor(cred *model.Credential) AuthState {
	if cred.Identity.UsableForProtectedActions() {
		return StateAuthenticatedVerified
	}
	return StateAuthenticatedUnverified
}
