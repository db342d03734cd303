package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

const testSessionID = "6f1c2a9e-3b7d-4c55-9a1e-2f0d8b7c6e54"

type mockSessionService struct {
	startFn func(ctx context.Context, userID, trackID, waveType string) (*model.ListeningSession, error)
	endFn   func(ctx context.Context, identity *model.Identity, sessionID string, durationSeconds int64, completed bool) (*model.ListeningSession, error)
	listFn  func(ctx context.Context, userID string, limit int) ([]*model.ListeningSession, error)
}

func (m *mockSessionService) Start(ctx context.Context, userID, trackID, waveType string) (*model.ListeningSession, error) {
	return m.startFn(ctx, userID, trackID, waveType)
}

func (m *mockSessionService) End(ctx context.Context, identity *model.Identity, sessionID string, durationSeconds int64, completed bool) (*model.ListeningSession, error) {
	return m.endFn(ctx, identity, sessionID, durationSeconds, completed)
}

func (m *mockSessionService) List(ctx context.Context, userID string, limit int) ([]*model.ListeningSession, error) {
	return m.listFn(ctx, userID, limit)
}

// withSessionID はchiのURLパラメータsessionIdを設定する。
func withSessionID(req *http.Request, sessionID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("sessionId", sessionID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// --- Start ---

func TestSessionHandler_Start_Success(t *testing.T) {
	var gotUser, gotTrack, gotWave string
	svc := &mockSessionService{
		startFn: func(ctx context.Context, userID, trackID, waveType string) (*model.ListeningSession, error) {
			gotUser, gotTrack, gotWave = userID, trackID, waveType
			return &model.ListeningSession{ID: testSessionID}, nil
		},
	}
	h := NewSessionHandler(svc)
	body := `{"trackId":"alpha-1","waveType":"alpha"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/sessions/start", strings.NewReader(body)), verifiedIdentity("uid-1"))
	w := httptest.NewRecorder()

	h.Start(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotUser != "uid-1" || gotTrack != "alpha-1" || gotWave != "alpha" {
		t.Errorf("Start called with (%q, %q, %q)", gotUser, gotTrack, gotWave)
	}
	var resp startSessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != testSessionID || resp.Message != "Session started" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestSessionHandler_Start_ValidationError(t *testing.T) {
	svc := &mockSessionService{
		startFn: func(ctx context.Context, userID, trackID, waveType string) (*model.ListeningSession, error) {
			return nil, model.NewValidationError("waveType must be alpha or beta")
		},
	}
	h := NewSessionHandler(svc)
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/sessions/start", strings.NewReader(`{"trackId":"x","waveType":"gamma"}`)), verifiedIdentity("uid-1"))
	w := httptest.NewRecorder()

	h.Start(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- End ---

func TestSessionHandler_End_Success(t *testing.T) {
	var gotDuration int64
	var gotCompleted bool
	svc := &mockSessionService{
		endFn: func(ctx context.Context, identity *model.Identity, sessionID string, durationSeconds int64, completed bool) (*model.ListeningSession, error) {
			gotDuration, gotCompleted = durationSeconds, completed
			return &model.ListeningSession{ID: sessionID, DurationSeconds: durationSeconds, Completed: completed}, nil
		},
	}
	h := NewSessionHandler(svc)
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/sessions/"+testSessionID+"/end", strings.NewReader(`{"duration":630,"completed":true}`)), verifiedIdentity("uid-1"))
	req = withSessionID(req, testSessionID)
	w := httptest.NewRecorder()

	h.End(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotDuration != 630 || !gotCompleted {
		t.Errorf("End called with (%d, %v)", gotDuration, gotCompleted)
	}
	var resp endSessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.MinutesCredited != 11 {
		t.Errorf("minutesCredited = %d, want 11", resp.MinutesCredited)
	}
	if resp.Message != "Session ended successfully" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestSessionHandler_End_FractionalDuration(t *testing.T) {
	tests := []struct {
		body        string
		wantSeconds int64
		wantMinutes int64
	}{
		{`{"duration":630.4,"completed":true}`, 630, 11},
		{`{"duration":89.5,"completed":false}`, 90, 2},
		{`{"duration":0.2,"completed":false}`, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			var gotDuration int64
			svc := &mockSessionService{
				endFn: func(ctx context.Context, identity *model.Identity, sessionID string, durationSeconds int64, completed bool) (*model.ListeningSession, error) {
					gotDuration = durationSeconds
					return &model.ListeningSession{ID: sessionID, DurationSeconds: durationSeconds, Completed: completed}, nil
				},
			}
			h := NewSessionHandler(svc)
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/sessions/"+testSessionID+"/end", strings.NewReader(tt.body)), verifiedIdentity("uid-1"))
			req = withSessionID(req, testSessionID)
			w := httptest.NewRecorder()

			h.End(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if gotDuration != tt.wantSeconds {
				t.Errorf("durationSeconds = %d, want %d", gotDuration, tt.wantSeconds)
			}
			var resp endSessionResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.MinutesCredited != tt.wantMinutes {
				t.Errorf("minutesCredited = %d, want %d", resp.MinutesCredited, tt.wantMinutes)
			}
		})
	}
}

func TestSessionHandler_End_Errors(t *testing.T) {
	tests := []struct {
		name       string
		sessionID  string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"UUIDでないID", "not-a-uuid", `{"duration":60}`, nil, http.StatusNotFound, model.ErrCodeSessionNotFound},
		{"duration未指定", testSessionID, `{"completed":true}`, nil, http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"不正なJSON", testSessionID, `[`, nil, http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"存在しない", testSessionID, `{"duration":60}`, model.NewSessionNotFoundError(testSessionID), http.StatusNotFound, model.ErrCodeSessionNotFound},
		{"他人のセッション", testSessionID, `{"duration":60}`, model.NewForbiddenError(), http.StatusForbidden, model.ErrCodeForbidden},
		{"終了済み", testSessionID, `{"duration":60}`, model.NewSessionAlreadyEndedError(), http.StatusConflict, model.ErrCodeSessionAlreadyEnded},
		{"負のduration", testSessionID, `{"duration":-1}`, nil, http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"負の小数duration", testSessionID, `{"duration":-0.4}`, nil, http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"上限超過", testSessionID, `{"duration":86401}`, nil, http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"桁あふれ", testSessionID, `{"duration":1e400}`, nil, http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"文字列", testSessionID, `{"duration":"630"}`, nil, http.StatusBadRequest, model.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockSessionService{
				endFn: func(ctx context.Context, identity *model.Identity, sessionID string, durationSeconds int64, completed bool) (*model.ListeningSession, error) {
					called = true
					return nil, tt.err
				},
			}
			h := NewSessionHandler(svc)
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/sessions/x/end", strings.NewReader(tt.body)), verifiedIdentity("uid-1"))
			req = withSessionID(req, tt.sessionID)
			w := httptest.NewRecorder()

			h.End(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if tt.err == nil && called {
				t.Error("service should not be called")
			}
		})
	}
}

// --- List ---

func TestSessionHandler_List(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	var gotLimit int
	svc := &mockSessionService{
		listFn: func(ctx context.Context, userID string, limit int) ([]*model.ListeningSession, error) {
			gotLimit = limit
			return []*model.ListeningSession{
				{ID: "s2", TrackID: "beta-1", WaveType: model.WaveBeta, StartTime: start},
				{ID: "s1", TrackID: "alpha-1", WaveType: model.WaveAlpha, StartTime: start, EndTime: &end, DurationSeconds: 600, Completed: true},
			}, nil
		},
	}
	h := NewSessionHandler(svc)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/sessions?limit=10", nil), verifiedIdentity("uid-1"))
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotLimit != 10 {
		t.Errorf("limit = %d, want 10", gotLimit)
	}
	var resp listSessionsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(resp.Sessions))
	}
	if resp.Sessions[0].EndTime != nil {
		t.Error("open session should have null endTime")
	}
	if resp.Sessions[1].DurationSeconds != 600 || !resp.Sessions[1].Completed {
		t.Errorf("unexpected ended session: %+v", resp.Sessions[1])
	}
}

func TestSessionHandler_List_EmptyIsArray(t *testing.T) {
	svc := &mockSessionService{
		listFn: func(ctx context.Context, userID string, limit int) ([]*model.ListeningSession, error) {
			return nil, nil
		},
	}
	h := NewSessionHandler(svc)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/sessions", nil), verifiedIdentity("uid-1"))
	w := httptest.NewRecorder()

	h.List(w, req)

	if !strings.Contains(w.Body.String(), `"sessions":[]`) {
		t.Errorf("body = %s, want empty sessions array", w.Body.String())
	}
}

func TestSessionHandler_List_InvalidLimit(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		t.Run(raw, func(t *testing.T) {
			h := NewSessionHandler(&mockSessionService{})
			req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/sessions?limit="+raw, nil), verifiedIdentity("uid-1"))
			w := httptest.NewRecorder()

			h.List(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}
