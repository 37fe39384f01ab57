package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// errorDocument wraps a failure so scripted consumers can tell it from a result
type errorDocument struct {
	Error StructuredError `json:"error" yaml:"error"`
}

// JSONFormatter writes one JSON document per call
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) Format(data interface{}) (string, error) {
	var out []byte
	var err error
	if f.Indent {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

func (f *JSONFormatter) FormatError(se StructuredError) (string, error) {
	return f.Format(errorDocument{Error: se})
}

// FormatTable renders an array of objects keyed by header
func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToMaps(headers, rows))
}

// YAMLFormatter writes the same documents as YAML
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data interface{}) (string, error) {
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *YAMLFormatter) FormatError(se StructuredError) (string, error) {
	return f.Format(errorDocument{Error: se})
}

func (f *YAMLFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToMaps(headers, rows))
}
