package model

// Track はカタログ上の音声トラック。
type Track struct {
	ID              string   `toml:"id"`
	Name            string   `toml:"name"`
	WaveType        WaveType `toml:"wave_type"`
	DurationSeconds int      `toml:"duration"`
	File            string   `toml:"file"`
}
