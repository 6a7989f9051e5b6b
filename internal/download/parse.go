package download

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"

	"github.com/zsiec/network-monitor/internal/network"
)

// ParseJSONFile decodes the JSON document at path into v. A missing or
// malformed file is an error.
func (d *Downloader) ParseJSONFile(path string, v interface{}) error {
	f, err := d.fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ParseLayoutFile reads a network layout document.
func (d *Downloader) ParseLayoutFile(path string) (*network.Layout, error) {
	var layout network.Layout
	if err := d.ParseJSONFile(path, &layout); err != nil {
		return nil, err
	}
	return &layout, nil
}

// ParseLayoutFile reads a network layout document from fs.
func ParseLayoutFile(fs afero.Fs, path string) (*network.Layout, error) {
	return New(fs).ParseLayoutFile(path)
}
