package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/spf13/cobra"
)

// readInput reads the named file, or stdin when no file or "-" is given.
func readInput(cmd *cobra.Command, args []string) ([]byte, string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, "stdin", nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return data, args[0], nil
}

// decodeAnnotations accepts either a list of annotation sets or a single set.
func decodeAnnotations(data []byte) ([]layout.AnnotationSet, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if trimmed[0] == '{' {
		var set layout.AnnotationSet
		if err := json.Unmarshal(trimmed, &set); err != nil {
			return nil, fmt.Errorf("invalid annotations: %w", err)
		}
		return []layout.AnnotationSet{set}, nil
	}
	var sets []layout.AnnotationSet
	if err := json.Unmarshal(trimmed, &sets); err != nil {
		return nil, fmt.Errorf("invalid annotations: %w", err)
	}
	return sets, nil
}
