package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/digitalcoffee/internal/middleware"
	"github.com/hitoshi/digitalcoffee/internal/model"
)

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	Start(ctx context.Context, userID, trackID, waveType string) (*model.ListeningSession, error)
	End(ctx context.Context, identity *model.Identity, sessionID string, durationSeconds int64, completed bool) (*model.ListeningSession, error)
	List(ctx context.Context, userID string, limit int) ([]*model.ListeningSession, error)
}

// SessionHandler は再生セッションのHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{
		service: service,
	}
}

type startSessionRequest struct {
	TrackID  string `json:"trackId"`
	WaveType string `json:"waveType"`
}

type startSessionResponse struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// maxSessionDurationSeconds は1セッションとして受け付ける再生時間の上限。
const maxSessionDurationSeconds = 24 * 60 * 60

// durationはnullと未指定を区別するためポインタで受ける。
// クライアントは小数の秒数を送ることがある。
type endSessionRequest struct {
	Duration  *float64 `json:"duration"`
	Completed bool     `json:"completed"`
}

// durationSeconds は再生時間を検証し、整数秒に丸める。
func (req endSessionRequest) durationSeconds() (int64, error) {
	if req.Duration == nil {
		return 0, model.NewValidationError("duration is required")
	}
	d := *req.Duration
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0, model.NewValidationError("duration must be a non-negative number")
	}
	if d > maxSessionDurationSeconds {
		return 0, model.NewValidationError("duration is too large")
	}
	return int64(math.Round(d)), nil
}

type endSessionResponse struct {
	Message         string `json:"message"`
	MinutesCredited int64  `json:"minutesCredited"`
}

type sessionResponse struct {
	ID              string     `json:"id"`
	TrackID         string     `json:"trackId"`
	WaveType        string     `json:"waveType"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime"`
	DurationSeconds int64      `json:"duration"`
	Completed       bool       `json:"completed"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

// Start は再生セッションを開始する。
// POST /api/sessions/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req startSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.service.Start(r.Context(), userID, req.TrackID, req.WaveType)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, startSessionResponse{
		SessionID: sess.ID,
		Message:   "Session started",
	})
}

// End は再生セッションを終了し、統計に加算する。
// POST /api/sessions/{sessionId}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	// UUID形式でないIDは存在しないセッションとして扱う
	if _, err := uuid.Parse(sessionID); err != nil {
		handleServiceError(w, model.NewSessionNotFoundError(sessionID))
		return
	}

	var req endSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	duration, err := req.durationSeconds()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	sess, err := h.service.End(r.Context(), identity, sessionID, duration, req.Completed)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, endSessionResponse{
		Message:         "Session ended successfully",
		MinutesCredited: model.RoundMinutes(sess.DurationSeconds),
	})
}

// List は認証済みユーザーのセッションを新しい順に返す。
// GET /api/sessions?limit=20
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			handleServiceError(w, model.NewValidationError("limit must be a positive integer"))
			return
		}
	}

	sessions, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, sessionResponse{
			ID:              s.ID,
			TrackID:         s.TrackID,
			WaveType:        string(s.WaveType),
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			DurationSeconds: s.DurationSeconds,
			Completed:       s.Completed,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
