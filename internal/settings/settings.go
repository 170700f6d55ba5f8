package settings

import (
	"fmt"
	"sync"
)

// OutputFormat is the user-facing output format preset.
type OutputFormat string

const (
	FormatKeep OutputFormat = "keep"
	FormatWebP OutputFormat = "webp"
	FormatJPEG OutputFormat = "jpeg"
	FormatPNG  OutputFormat = "png"
)

// Level is the user-facing compression aggressiveness preset.
type Level string

const (
	LevelLight      Level = "light"
	LevelBalanced   Level = "balanced"
	LevelAggressive Level = "aggressive"
)

// Settings are the global compression preferences. Quality is the
// user-visible slider value; the wire quality actually sent to the
// backend is derived from OutputFormat and Level by Resolve.
type Settings struct {
	Quality      int          `json:"quality"`
	OutputFormat OutputFormat `json:"output_format"`
	Level        Level        `json:"compression_level"`
}

// Default returns the balanced keep-format defaults.
func Default() Settings {
	return Settings{Quality: 80, OutputFormat: FormatKeep, Level: LevelBalanced}
}

// Validate reports whether the settings hold only known values.
func (s Settings) Validate() error {
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("quality must be within 1-100, got %d", s.Quality)
	}
	switch s.OutputFormat {
	case FormatKeep, FormatWebP, FormatJPEG, FormatPNG:
	default:
		return fmt.Errorf("unknown output format %q", s.OutputFormat)
	}
	switch s.Level {
	case LevelLight, LevelBalanced, LevelAggressive:
	default:
		return fmt.Errorf("unknown compression level %q", s.Level)
	}
	return nil
}

// Store holds the mutable global settings. The job loop reads them fresh
// as each image begins processing, so a mid-run change applies from the
// next image onward and never retroactively to one already in flight.
type Store struct {
	mu sync.RWMutex
	s  Settings
}

// NewStore returns a settings store seeded with the given settings.
func NewStore(s Settings) *Store {
	return &Store{s: s}
}

// Get returns the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Set replaces the settings after validation.
func (st *Store) Set(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	st.s = s
	st.mu.Unlock()
	return nil
}
