package bookmark

import (
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Export is the YAML document written by the bookmarks command.
type Export struct {
	Title     string     `yaml:"title"`
	Progress  float64    `yaml:"progress"`
	Exported  time.Time  `yaml:"exported"`
	Bookmarks []Bookmark `yaml:"bookmarks"`
}

// WriteYAML encodes e to w.
func WriteYAML(w io.Writer, e Export) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(e); err != nil {
		return err
	}
	return enc.Close()
}

// ReadYAML decodes an export.
func ReadYAML(r io.Reader) (Export, error) {
	var e Export
	err := yaml.NewDecoder(r).Decode(&e)
	return e, err
}
