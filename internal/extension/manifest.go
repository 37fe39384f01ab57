package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
)

// ManifestFileName is the manifest at the root of every bundle
const ManifestFileName = "manifest.json"

// Manifest describes a DXT bundle
type Manifest struct {
	DXTVersion  string                     `json:"dxt_version,omitempty"`
	Name        string                     `json:"name"`
	DisplayName string                     `json:"display_name,omitempty"`
	Version     string                     `json:"version"`
	Description string                     `json:"description,omitempty"`
	Author      *Author                    `json:"author,omitempty"`
	Server      ServerSpec                 `json:"server"`
	UserConfig  map[string]UserConfigField `json:"user_config,omitempty"`
}

// Author of a bundle
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// ServerSpec says how to launch the bundled server
type ServerSpec struct {
	Type       string    `json:"type"` // node, python, binary
	EntryPoint string    `json:"entry_point,omitempty"`
	MCPConfig  MCPConfig `json:"mcp_config"`
}

// MCPConfig is the launch command. Strings may contain ${__dirname} and
// ${user_config.<key>} placeholders.
type MCPConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// UserConfigField describes one value the user supplies at install time
type UserConfigField struct {
	Type        string      `json:"type"` // string, number, boolean, directory, file
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Sensitive   bool        `json:"sensitive,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// DefaultValue renders the field default as a string
func (f UserConfigField) DefaultValue() (string, bool) {
	switch v := f.Default.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64, bool:
		return fmt.Sprint(v), true
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}

// ParseManifest decodes and validates manifest bytes
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding manifest"), ErrInvalidManifest)
	}
	if m.Name == "" {
		return nil, errors.Wrap(ErrInvalidManifest, "name is required")
	}
	if m.Version == "" {
		return nil, errors.Wrap(ErrInvalidManifest, "version is required")
	}
	return &m, nil
}

// LoadManifest reads manifest.json from dir
func LoadManifest(dir string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrapf(ErrManifestNotFound, "in %s", dir)
		}
		return nil, nil, errors.Wrap(err, "reading manifest")
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, nil, err
	}
	return m, data, nil
}

// RequiresUserConfig is true iff any field is required
func (m *Manifest) RequiresUserConfig() bool {
	for _, field := range m.UserConfig {
		if field.Required {
			return true
		}
	}
	return false
}

// FieldNames returns the user config keys in sorted order
func (m *Manifest) FieldNames() []string {
	names := make([]string, 0, len(m.UserConfig))
	for name := range m.UserConfig {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Title returns DisplayName, falling back to Name
func (m *Manifest) Title() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}
