package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var classLine = regexp.MustCompile(`^class\s+\w+`)

// Parse reads a manifest in the recipe form, the sectioned text form or
// YAML, detecting the form from the content. Unknown attributes, sections
// and keys are ignored.
func Parse(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	switch detect(data) {
	case formRecipe:
		return parseRecipe(data)
	case formSectioned:
		return parseSectioned(data)
	default:
		return parseYAML(data)
	}
}

// ParseFile parses the manifest at path on fs. Files ending in .yaml or .yml
// are always read as YAML.
func ParseFile(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m *Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		m, err = parseYAML(data)
	default:
		m, err = Parse(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

type form int

const (
	formYAML form = iota
	formRecipe
	formSectioned
)

// detect looks for a top-level class anywhere in the input before settling
// on the sectioned or YAML form, since recipes may open with module-level
// assignments.
func detect(data []byte) form {
	guess := formYAML
	seen := false
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		raw := sc.Text()
		if classLine.MatchString(raw) {
			return formRecipe
		}
		line := strings.TrimSpace(raw)
		switch {
		case seen || line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "from ") || strings.HasPrefix(line, "import "):
		case strings.HasPrefix(line, "["):
			guess, seen = formSectioned, true
		default:
			seen = true
		}
	}
	return guess
}

func parseSectioned(data []byte) (*Manifest, error) {
	m := &Manifest{DefaultOptions: map[string]string{}}
	section := ""
	sc := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("%w: line %d: unterminated section header", ErrSyntax, lineNo)
			}
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		switch section {
		case "":
			return nil, fmt.Errorf("%w: line %d: entry outside any section", ErrSyntax, lineNo)
		case "requires":
			req, err := ParseRequirement(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			m.Requires = append(m.Requires, req)
		case "generators":
			m.Generators = append(m.Generators, line)
		case "options":
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				return nil, fmt.Errorf("%w: line %d: option without '='", ErrSyntax, lineNo)
			}
			m.DefaultOptions[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	if m.Name == "" && len(m.Requires) == 0 {
		return nil, ErrUnknownFormat
	}
	if m.DefaultOptions == nil {
		m.DefaultOptions = map[string]string{}
	}
	return &m, nil
}
