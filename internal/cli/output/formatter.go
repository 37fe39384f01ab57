// Package output formats CLI results as a table, JSON or YAML.
package output

import (
	"os"
	"strings"
)

// OutputEnvVar overrides the default format when --output is not given
const OutputEnvVar = "MCPCTX_OUTPUT"

// OutputFormatter formats structured data for CLI output
type OutputFormatter interface {
	// Format renders a struct, slice or map
	Format(data interface{}) (string, error)

	FormatError(err StructuredError) (string, error)

	// FormatTable renders rows under headers
	FormatTable(headers []string, rows [][]string) (string, error)
}

// NewFormatter creates a formatter for table, json or yaml (case-insensitive)
func NewFormatter(format string) (OutputFormatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{NoColor: os.Getenv("NO_COLOR") != ""}, nil
	default:
		return nil, newError(CodeInvalidOutputFormat, "unknown output format: %s (valid: table, json, yaml)", format)
	}
}

// ResolveFormat picks the flag value, then MCPCTX_OUTPUT, then table
func ResolveFormat(outputFlag string) string {
	if outputFlag != "" {
		return outputFlag
	}
	if envFormat := os.Getenv(OutputEnvVar); envFormat != "" {
		return envFormat
	}
	return "table"
}

// rowsToMaps turns a table into one map per row keyed by header
func rowsToMaps(headers []string, rows [][]string) []map[string]string {
	result := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		result = append(result, obj)
	}
	return result
}
