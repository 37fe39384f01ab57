package main

import (
	"fmt"
	"io"
	"os"

	"github.com/smart-mcp-proxy/mcpctx/internal/cli/output"
)

var stdout io.Writer = os.Stdout

func resolvedFormat() string {
	return output.ResolveFormat(outputFormat)
}

func structuredOutput() bool {
	format := resolvedFormat()
	return format == "json" || format == "yaml"
}

func printTable(headers []string, rows [][]string) error {
	formatter, err := output.NewFormatter(resolvedFormat())
	if err != nil {
		return err
	}
	result, err := formatter.FormatTable(headers, rows)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = fmt.Fprint(stdout, result)
	return err
}

func printRecord(record map[string]string) error {
	formatter, err := output.NewFormatter(resolvedFormat())
	if err != nil {
		return err
	}
	result, err := formatter.Format(record)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = fmt.Fprint(stdout, result)
	return err
}

// stateLabel colors a state for table output
func stateLabel(state string) string {
	if structuredOutput() {
		return state
	}
	return (&output.TableFormatter{NoColor: os.Getenv("NO_COLOR") != ""}).State(state)
}

func serverNotFound(id string) output.StructuredError {
	return output.ServerNotFound(id)
}

// classifyError maps a command failure to a structured error
func classifyError(err error) output.StructuredError {
	return output.Classify(err)
}

// outputError prints err in the selected format and returns it for the exit code
func outputError(err error) error {
	structErr := classifyError(err)

	if structuredOutput() {
		formatter, fmtErr := output.NewFormatter(resolvedFormat())
		if fmtErr == nil {
			if result, formatErr := formatter.FormatError(structErr); formatErr == nil {
				fmt.Fprint(stdout, result)
			}
		}
	}
	return structErr
}
