package model

import (
	"fmt"
	"time"
)

// WaveType はトラックとセッションの分類（アルファ波/ベータ波）。
type WaveType string

const (
	WaveAlpha WaveType = "alpha"
	WaveBeta  WaveType = "beta"
)

// ParseWaveType は文字列をWaveTypeに変換する。
func ParseWaveType(s string) (WaveType, error) {
	switch WaveType(s) {
	case WaveAlpha, WaveBeta:
		return WaveType(s), nil
	default:
		return "", fmt.Errorf("unknown wave type: %q", s)
	}
}

// ListeningSession は1回の再生を表す。
// EndTimeとDurationSecondsは終了時に1度だけ設定される。
type ListeningSession struct {
	ID              string
	UserID          string
	TrackID         string
	WaveType        WaveType
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds int64
	Completed       bool
}

// Ended はセッションが終了済みかどうかを返す。
func (s *ListeningSession) Ended() bool {
	return s.EndTime != nil
}

// SessionFinalization はセッション終了時に書き込む値。
type SessionFinalization struct {
	SessionID       string
	UserID          string
	EndTime         time.Time
	DurationSeconds int64
	Completed       bool
}
