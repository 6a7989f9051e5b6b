// Package manifest models the project's package manifest: its identity, the
// pinned libraries it requires and the default build options it sets.
package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/network-monitor/pkg/version"
)

var (
	ErrInvalidRequirement = errors.New("invalid requirement")
	ErrUnpinned           = errors.New("requirement is not pinned to an exact version")
	ErrUnknownFormat      = errors.New("unrecognised manifest format")
	ErrSyntax             = errors.New("manifest syntax error")
)

// Requirement is a dependency pinned to one exact version.
type Requirement struct {
	Name    string
	Version string
}

// ParseRequirement parses "name/version". Extra reference parts after the
// version ("@user/channel") are dropped. Version ranges are rejected.
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	name, ver, ok := strings.Cut(s, "/")
	if !ok || name == "" || ver == "" {
		return Requirement{}, fmt.Errorf("%w: %q", ErrInvalidRequirement, s)
	}
	if strings.ContainsAny(ver, "[]<>~^*, ") {
		return Requirement{}, fmt.Errorf("%w: %q", ErrUnpinned, s)
	}
	return Requirement{Name: name, Version: ver}, nil
}

func (r Requirement) String() string {
	return r.Name + "/" + r.Version
}

func (r Requirement) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Requirement) UnmarshalText(b []byte) error {
	parsed, err := ParseRequirement(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Requirement) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(s))
}

// Manifest is a parsed package manifest.
type Manifest struct {
	Name           string            `json:"name" yaml:"name"`
	Version        string            `json:"version" yaml:"version"`
	Generators     []string          `json:"generators,omitempty" yaml:"generators,omitempty"`
	Requires       []Requirement     `json:"requires,omitempty" yaml:"requires,omitempty"`
	DefaultOptions map[string]string `json:"default_options,omitempty" yaml:"default_options,omitempty"`
}

// Default returns this project's own manifest.
func Default() *Manifest {
	return &Manifest{
		Name:       version.Name,
		Version:    version.Version,
		Generators: []string{"cmake_find_package"},
		Requires: []Requirement{
			{Name: "boost", Version: "1.75.0"},
			{Name: "libcurl", Version: "7.73.0"},
			{Name: "openssl", Version: "1.1.1i"},
		},
		DefaultOptions: map[string]string{"boost:shared": "False"},
	}
}

// Reference is "name/version", or the empty string for an anonymous manifest.
func (m *Manifest) Reference() string {
	if m.Name == "" {
		return ""
	}
	return m.Name + "/" + m.Version
}

// RequirementSet returns the set of "name/version" strings.
func (m *Manifest) RequirementSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Requires))
	for _, r := range m.Requires {
		set[r.String()] = struct{}{}
	}
	return set
}

// SortedRequirements returns the requirement strings in lexical order.
func (m *Manifest) SortedRequirements() []string {
	out := make([]string, 0, len(m.Requires))
	for r := range m.RequirementSet() {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// IsSubsetOf reports whether every requirement of m is also required by
// other. Equal sets are subsets of each other.
func (m *Manifest) IsSubsetOf(other *Manifest) bool {
	theirs := other.RequirementSet()
	for r := range m.RequirementSet() {
		if _, ok := theirs[r]; !ok {
			return false
		}
	}
	return true
}

// IsStrictSubsetOf is IsSubsetOf excluding equal sets.
func (m *Manifest) IsStrictSubsetOf(other *Manifest) bool {
	return m.IsSubsetOf(other) && len(m.RequirementSet()) < len(other.RequirementSet())
}

// SortedOptions returns the default options as "key=value" in key order.
func (m *Manifest) SortedOptions() []string {
	out := make([]string, 0, len(m.DefaultOptions))
	for k, v := range m.DefaultOptions {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Option looks up a default option keyed "package:option".
func (m *Manifest) Option(key string) (string, bool) {
	v, ok := m.DefaultOptions[key]
	return v, ok
}

// Equal compares manifest identity: name and version.
func (m *Manifest) Equal(other *Manifest) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Name == other.Name && m.Version == other.Version
}

// Diff lists requirements only in m and only in other.
func (m *Manifest) Diff(other *Manifest) (onlyHere, onlyThere []string) {
	mine, theirs := m.RequirementSet(), other.RequirementSet()
	for _, r := range m.SortedRequirements() {
		if _, ok := theirs[r]; !ok {
			onlyHere = append(onlyHere, r)
		}
	}
	for _, r := range other.SortedRequirements() {
		if _, ok := mine[r]; !ok {
			onlyThere = append(onlyThere, r)
		}
	}
	return onlyHere, onlyThere
}

// OptionChange is a default option that differs between two manifests. An
// empty side means the option is not set there.
type OptionChange struct {
	Key   string `json:"key"`
	Left  string `json:"left,omitempty"`
	Right string `json:"right,omitempty"`
}

// OptionDiff lists the default options that are set differently in m and
// other, in key order.
func (m *Manifest) OptionDiff(other *Manifest) []OptionChange {
	keys := make(map[string]struct{}, len(m.DefaultOptions)+len(other.DefaultOptions))
	for k := range m.DefaultOptions {
		keys[k] = struct{}{}
	}
	for k := range other.DefaultOptions {
		keys[k] = struct{}{}
	}

	var changes []OptionChange
	for k := range keys {
		left, inLeft := m.DefaultOptions[k]
		right, inRight := other.DefaultOptions[k]
		if inLeft == inRight && left == right {
			continue
		}
		changes = append(changes, OptionChange{Key: k, Left: left, Right: right})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}
