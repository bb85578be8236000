package cmd

import (
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/pipeline"
	"github.com/spf13/cobra"
)

// refineCmd applies the layout heuristics to already-normalized annotations.
var refineCmd = &cobra.Command{
	Use:   "refine [file|-]",
	Short: "Apply layout heuristics to normalized annotations",
	Long: `Refine normalized page-element annotations: expand tables upward to
include captions, fuse charts with their titles and drop low-confidence
tables and charts.

Input is a JSON list of annotation sets ({"table": [[x1,y1,x2,y2,conf]], ...})
or, with --input-format nim, a detector service bounding box response.

Examples:
  pagefuse refine annotations.json
  cat response.json | pagefuse refine --input-format nim
  pagefuse refine annotations.json --final-thresh 0.6 --format text`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, []flagBinding{
			{"refine.final_thresh", "final-thresh"},
			{"refine.table_expand_ratio", "table-expand"},
			{"output.format", "format"},
			{"output.file", "output"},
		})
	},
	RunE: runRefine,
}

func runRefine(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	data, source, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	inputFormat, _ := cmd.Flags().GetString("input-format")
	var sets []layout.AnnotationSet
	switch inputFormat {
	case "annotations":
		sets, err = decodeAnnotations(data)
	case "nim":
		sets, err = layout.ParseBoundingBoxResponse(data)
	default:
		err = fmt.Errorf("unsupported input format: %s", inputFormat)
	}
	if err != nil {
		return err
	}

	pc := cfg.ToPipelineConfig()
	pc.EnableModel = false
	p, err := pipeline.New(pc)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	slog.Debug("Refining annotations", "source", source, "images", len(sets))
	refined, err := p.Refine(cmd.Context(), sets)
	if err != nil {
		return fmt.Errorf("refinement failed: %w", err)
	}

	return emit(cmd.OutOrStdout(), cfg.Output.File, refined, nil, cfg.Output.Format)
}

func init() {
	rootCmd.AddCommand(refineCmd)
	refineCmd.Flags().String("input-format", "annotations", "input format: annotations or nim")
	refineCmd.Flags().Float64("final-thresh", 0.48, "minimum confidence kept for tables and charts")
	refineCmd.Flags().Float64("table-expand", 0.2, "fraction of table height added above each table")
	refineCmd.Flags().StringP("format", "f", "json", "output format (json, yaml, text)")
	refineCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
}
