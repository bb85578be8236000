package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// labeledSet pairs an annotation set with the source it came from.
type labeledSet struct {
	Source      string               `json:"source" yaml:"source"`
	Annotations layout.AnnotationSet `json:"annotations" yaml:"annotations"`
}

// writeAnnotations renders sets in the requested format. Names, when given,
// label each set by its source file.
func writeAnnotations(w io.Writer, sets []layout.AnnotationSet, names []string, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if names != nil {
			return enc.Encode(withNames(sets, names))
		}
		return enc.Encode(sets)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		if names != nil {
			return enc.Encode(withNames(sets, names))
		}
		return enc.Encode(sets)
	case "text":
		_, err := io.WriteString(w, formatText(sets, names))
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func withNames(sets []layout.AnnotationSet, names []string) []labeledSet {
	out := make([]labeledSet, len(sets))
	for i, s := range sets {
		out[i] = labeledSet{Annotations: s}
		if i < len(names) {
			out[i].Source = names[i]
		}
	}
	return out
}

func formatText(sets []layout.AnnotationSet, names []string) string {
	title := cases.Title(language.English)
	var b strings.Builder
	for i, set := range sets {
		header := fmt.Sprintf("Image %d", i+1)
		if i < len(names) && names[i] != "" {
			header += " (" + names[i] + ")"
		}
		fmt.Fprintf(&b, "%s: %d detections\n", header, set.Len())
		for _, label := range layout.Labels() {
			for _, d := range set.Get(label) {
				fmt.Fprintf(&b, "  %-6s [%.4f, %.4f, %.4f, %.4f] conf=%.3f\n",
					title.String(label.String()), d.Box.MinX, d.Box.MinY, d.Box.MaxX, d.Box.MaxY, d.Confidence)
			}
		}
	}
	return b.String()
}

// emit writes to the configured output file, or stdout when none is set.
func emit(stdout io.Writer, file string, sets []layout.AnnotationSet, names []string, format string) error {
	if file == "" {
		return writeAnnotations(stdout, sets, names, format)
	}
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := writeAnnotations(f, sets, names, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
