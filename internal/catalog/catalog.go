// Package catalog は再生可能な音声トラックのカタログを提供する。
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

//go:embed tracks.toml
var defaultTracks []byte

// Catalog は読み込み済みのトラック一覧。読み込み後は変更しない。
type Catalog struct {
	tracks []model.Track
	byID   map[string]model.Track
}

type catalogFile struct {
	Tracks []model.Track `toml:"tracks"`
}

// Default は埋め込みのカタログを返す。
func Default() *Catalog {
	c, err := Parse(defaultTracks)
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded track catalog: %v", err))
	}
	return c
}

// Load はpathのTOMLファイルからカタログを読み込む。pathが空の場合は埋め込みのカタログを返す。
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse はTOMLのカタログを解析し検証する。
// idの重複、未知のwave_type、負のdurationはエラーとする。
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		tracks: make([]model.Track, 0, len(f.Tracks)),
		byID:   make(map[string]model.Track, len(f.Tracks)),
	}
	for i, t := range f.Tracks {
		if t.ID == "" {
			return nil, fmt.Errorf("track #%d: id is required", i+1)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("track %q: duplicate id", t.ID)
		}
		if _, err := model.ParseWaveType(string(t.WaveType)); err != nil {
			return nil, fmt.Errorf("track %q: %w", t.ID, err)
		}
		if t.DurationSeconds < 0 {
			return nil, fmt.Errorf("track %q: negative duration", t.ID)
		}
		c.tracks = append(c.tracks, t)
		c.byID[t.ID] = t
	}
	return c, nil
}

// All はカタログ順のトラック一覧のコピーを返す。
func (c *Catalog) All() []model.Track {
	out := make([]model.Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}

// ByWave は指定wave typeのトラックをカタログ順で返す。
func (c *Catalog) ByWave(wave model.WaveType) []model.Track {
	out := make([]model.Track, 0)
	for _, t := range c.tracks {
		if t.WaveType == wave {
			out = append(out, t)
		}
	}
	return out
}

// Find はidのトラックを返す。
func (c *Catalog) Find(id string) (model.Track, bool) {
	t, ok := c.byID[id]
	return t, ok
}
