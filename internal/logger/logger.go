// Package logger はslogのロガー生成を提供する。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// 出力形式。
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options はロガーの出力形式とレベル。
type Options struct {
	Format string // "json"（デフォルト）または "text"
	Level  string // debug, info, warn, error
}

// Setup は構造化ログ出力のslog.Loggerを生成して返す。
// jsonはサーバー向け、textは開発時やCLI向けの人間が読みやすい形式。
func Setup(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	case FormatText:
		handler := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmlog.Level(level),
		})
		return slog.New(handler), nil
	default:
		return nil, fmt.Errorf("unknown log format: %q", opts.Format)
	}
}

// SetupDefault はロガーを生成してグローバルロガーとして設定する。
// writerがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, opts Options) error {
	if w == nil {
		w = os.Stdout
	}
	logger, err := Setup(w, opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// ParseLevel はレベル名をslog.Levelに変換する。空の場合はinfo。
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
	return level, nil
}
