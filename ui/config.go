package ui

import "time"

// Config contains TUI-specific configuration.
type Config struct {
	GlamourStyle    string `env:"GLAMOUR_STYLE" envDefault:"auto"`
	GlamourMaxWidth uint
	EnableMouse     bool

	// Path of the open file, empty for library records without one.
	Path string

	// For debugging the UI
	HighlightEnabled bool          `env:"LECTERN_HIGHLIGHT"      envDefault:"true"`
	GlamourEnabled   bool          `env:"LECTERN_ENABLE_GLAMOUR" envDefault:"true"`
	StatusTimeout    time.Duration `env:"LECTERN_STATUS_TIMEOUT" envDefault:"3s"`
}
