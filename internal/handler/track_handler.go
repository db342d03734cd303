package handler

import (
	"net/http"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

// TrackCatalog はトラック一覧ハンドラーが必要とするカタログのインターフェース。
type TrackCatalog interface {
	All() []model.Track
	ByWave(wave model.WaveType) []model.Track
}

// TrackHandler は音声トラック一覧のHTTPハンドラー。
type TrackHandler struct {
	catalog TrackCatalog
}

// NewTrackHandler はTrackHandlerを生成する。
func NewTrackHandler(catalog TrackCatalog) *TrackHandler {
	return &TrackHandler{catalog: catalog}
}

type trackResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Duration int    `json:"duration"`
	WaveType string `json:"waveType"`
	File     string `json:"file"`
}

type trackListResponse struct {
	Tracks []trackResponse `json:"tracks"`
	Alpha  []trackResponse `json:"alpha"`
	Beta   []trackResponse `json:"beta"`
}

func toTrackResponses(tracks []model.Track) []trackResponse {
	out := make([]trackResponse, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, trackResponse{
			ID:       t.ID,
			Name:     t.Name,
			Duration: t.DurationSeconds,
			WaveType: string(t.WaveType),
			File:     t.File,
		})
	}
	return out
}

// List はカタログの全トラックと波形別の一覧を返す。
// GET /api/audio/tracks
func (h *TrackHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, trackListResponse{
		Tracks: toTrackResponses(h.catalog.All()),
		Alpha:  toTrackResponses(h.catalog.ByWave(model.WaveAlpha)),
		Beta:   toTrackResponses(h.catalog.ByWave(model.WaveBeta)),
	})
}
