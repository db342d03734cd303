package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/auth"
	"github.com/hitoshi/digitalcoffee/internal/model"
)

// googleSignInTimeout はブラウザでの認可を待つ上限時間。
const googleSignInTimeout = 2 * time.Minute

// GoogleLoginCompleter はGoogleの認可コードを資格情報に交換する。
type GoogleLoginCompleter interface {
	CompleteGoogleLogin(ctx context.Context, state, code string) (*model.Credential, error)
}

type loopbackResult struct {
	cred *model.Credential
	err  error
}

// loopbackCallback はループバックアドレスで受けるOAuthコールバック。
// 結果は1回だけResultに送られる。
type loopbackCallback struct {
	completer GoogleLoginCompleter
	state     string

	once   sync.Once
	result chan loopbackResult
}

func newLoopbackCallback(completer GoogleLoginCompleter, state string) *loopbackCallback {
	return &loopbackCallback{
		completer: completer,
		state:     state,
		result:    make(chan loopbackResult, 1),
	}
}

// ServeHTTP はstateを検証し、認可コードを交換する。
func (h *loopbackCallback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("state") != h.state {
		// 無関係なリクエストでフローを終わらせない
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.send(loopbackResult{err: fmt.Errorf("authorization failed: %s %s", query.Get("error"), query.Get("error_description"))})
		http.Error(w, "authorization failed", http.StatusBadRequest)
		return
	}

	cred, err := h.completer.CompleteGoogleLogin(r.Context(), h.state, code)
	if err != nil {
		h.send(loopbackResult{err: err})
		http.Error(w, "sign-in failed", http.StatusBadGateway)
		return
	}

	h.send(loopbackResult{cred: cred})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "Digital Coffee: サインインが完了しました。ターミナルに戻ってください。\n")
}

func (h *loopbackCallback) send(res loopbackResult) {
	h.once.Do(func() {
		h.result <- res
		close(h.result)
	})
}

// Result は結果を受け取るチャネルを返す。
func (h *loopbackCallback) Result() <-chan loopbackResult {
	return h.result
}

// runGoogleSignIn はループバックサーバーを起動してGoogleログインを行い、資格情報を出力する。
// 認可URLはmsgに出力する。
func runGoogleSignIn(ctx context.Context, out, msg io.Writer, exchanger auth.CodeExchanger, broker *auth.Broker, listener net.Listener) error {
	redirectURI := fmt.Sprintf("http://%s/callback", listener.Addr().String())
	pending := auth.NewPendingExchanges(1, googleSignInTimeout)
	service := auth.NewService(exchanger, pending, brokerFederation{broker: broker}, redirectURI)

	authURL, state, err := service.BeginGoogleLogin()
	if err != nil {
		listener.Close()
		return err
	}

	callback := newLoopbackCallback(service, state)
	mux := http.NewServeMux()
	mux.Handle("/callback", callback)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("failed to shut down loopback server", slog.String("error", err.Error()))
		}
	}()

	fmt.Fprintf(msg, "ブラウザで次のURLを開いてGoogleアカウントでサインインしてください:\n%s\n", authURL)

	timeout := time.NewTimer(googleSignInTimeout)
	defer timeout.Stop()

	var res loopbackResult
	select {
	case res = <-callback.Result():
	case err := <-serverErr:
		return fmt.Errorf("loopback server error: %w", err)
	case <-timeout.C:
		return fmt.Errorf("authorization timed out after %s", googleSignInTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if res.err != nil {
		return describeIdentityError(res.err)
	}
	return printCurrent(out, broker)
}
