package vaultkeeper

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

type outputMode string

const (
	outputTable outputMode = "table"
	outputJSON  outputMode = "json"
	outputYAML  outputMode = "yaml"
)

func parseOutputMode(raw string) (outputMode, error) {
	switch mode := outputMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "", outputTable:
		return outputTable, nil
	case outputJSON, outputYAML:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported format %q (expected table, json or yaml)", raw)
	}
}

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "o", "table", "output format: table, json or yaml")
}

func formatFor(cmd *cobra.Command) (outputMode, error) {
	raw, _ := cmd.Flags().GetString("format")
	return parseOutputMode(raw)
}

// writeStructured renders v as JSON or YAML.
func writeStructured(out io.Writer, mode outputMode, v any) error {
	if mode == outputYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// logOutputWriteFailure records non-fatal output write/flush failures.
// CLI consumers frequently pipe to tools that close early (for example `head`),
// so we log and continue instead of treating these as command failures.
func logOutputWriteFailure(cmd *cobra.Command, context string, err error) {
	if err == nil {
		return
	}
	debugf(cmd, "ignored output write failure (%s): %v", context, err)
}
