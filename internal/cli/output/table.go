package output

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// TableFormatter formats output for a terminal
type TableFormatter struct {
	NoColor bool
}

// Format renders maps as aligned key/value lines and everything else with %v
func (f *TableFormatter) Format(data interface{}) (string, error) {
	switch v := data.(type) {
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		for _, k := range keys {
			fmt.Fprintf(w, "%s:\t%s\n", f.bold(k), v[k])
		}
		if err := w.Flush(); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return fmt.Sprintf("%v\n", data), nil
	}
}

func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s %s\n", f.paint(color.FgRed, "Error:"), err.Message)
	if err.Field != "" {
		fmt.Fprintf(&buf, "  Field: %s\n", err.Field)
	}
	if err.Guidance != "" {
		fmt.Fprintf(&buf, "  Guidance: %s\n", err.Guidance)
	}
	if err.RecoveryCommand != "" {
		fmt.Fprintf(&buf, "  Try: %s\n", err.RecoveryCommand)
	}
	return buf.String(), nil
}

func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// State colors a connection state name when writing to a terminal
func (f *TableFormatter) State(state string) string {
	switch state {
	case "Connected":
		return f.paint(color.FgGreen, state)
	case "Connecting", "Disconnecting":
		return f.paint(color.FgYellow, state)
	default:
		return f.paint(color.FgRed, state)
	}
}

func (f *TableFormatter) bold(s string) string {
	if !f.colorEnabled() {
		return s
	}
	return color.New(color.Bold).Sprint(s)
}

func (f *TableFormatter) paint(attr color.Attribute, s string) string {
	if !f.colorEnabled() {
		return s
	}
	return color.New(attr).Sprint(s)
}

func (f *TableFormatter) colorEnabled() bool {
	return !f.NoColor && term.IsTerminal(int(os.Stdout.Fd()))
}
