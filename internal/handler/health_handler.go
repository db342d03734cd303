package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存サービスの疎通確認を行う。
type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthCheckerFunc は関数をHealthCheckerとして扱うアダプター。
type HealthCheckerFunc func(ctx context.Context) error

// Check はHealthCheckerを実装する。
func (f HealthCheckerFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checker HealthChecker
	now     func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。checkerがnilの場合は常に正常を返す。
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		now:     time.Now,
	}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health はサービスの稼働状態を返す。DBに到達できない場合は503。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.checker.Check(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{
				Status:    "unavailable",
				Error:     "database unavailable",
				Timestamp: h.now().UTC(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Message:   "Digital Coffee API is running",
		Timestamp: h.now().UTC(),
	})
}
