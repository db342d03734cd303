package model

import (
	"math"
	"time"
)

// Profile はIdentity.UIDと1対1で対応する永続プロフィール。
type Profile struct {
	UserID    string
	Email     string
	Name      string
	Provider  ProviderKind
	CreatedAt time.Time
	UpdatedAt time.Time
	Stats     Stats
}

// Stats はプロフィールの集計値。SessionTrackerからの加算でのみ増える。
type Stats struct {
	TotalSessions int64
	TotalMinutes  int64
	AlphaSessions int64
	BetaSessions  int64
	CurrentStreak int64
	LongestStreak int64
}

// StatsDelta はセッション終了1回分の加算量。
type StatsDelta struct {
	TotalSessions int64
	TotalMinutes  int64
	AlphaSessions int64
	BetaSessions  int64
}

// CreditForSession はセッション終了時の加算量を計算する。
// waveTypeには保存済みセッションの値を渡すこと。
func CreditForSession(waveType WaveType, durationSeconds int64) StatsDelta {
	d := StatsDelta{
		TotalSessions: 1,
		TotalMinutes:  RoundMinutes(durationSeconds),
	}
	switch waveType {
	case WaveAlpha:
		d.AlphaSessions = 1
	case WaveBeta:
		d.BetaSessions = 1
	}
	return d
}

// RoundMinutes は秒数を分に四捨五入する。
func RoundMinutes(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return int64(math.Round(float64(seconds) / 60))
}
