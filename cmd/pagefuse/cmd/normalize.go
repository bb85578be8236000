package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/pagefuse/internal/detector"
	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/pipeline"
	"github.com/spf13/cobra"
)

// normalizeCmd decodes raw detector output into annotations.
var normalizeCmd = &cobra.Command{
	Use:   "normalize [file|-]",
	Short: "Decode raw detector predictions into annotations",
	Long: `Normalize raw YOLOX page-elements predictions: filter by joint confidence,
suppress overlaps, undo the letterbox and bucket boxes by label. The layout
heuristics run afterwards unless --no-refine is set.

Input is JSON of the form:
  {"shapes": [[height, width], ...], "predictions": [[[cx, cy, w, h, obj, s0, s1, s2], ...], ...]}

Images whose predictions are malformed yield an empty annotation set and the
command exits with an error after writing the remaining results.

Examples:
  pagefuse normalize predictions.json
  pagefuse normalize predictions.json --no-refine --format yaml
  pagefuse normalize - --class-agnostic=false < predictions.json`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, []flagBinding{
			{"normalizer.conf_thresh", "conf-thresh"},
			{"normalizer.iou_thresh", "iou-thresh"},
			{"normalizer.min_score", "min-score"},
			{"normalizer.class_agnostic", "class-agnostic"},
			{"refine.final_thresh", "final-thresh"},
			{"output.format", "format"},
			{"output.file", "output"},
		})
	},
	RunE: runNormalize,
}

func runNormalize(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	data, source, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	batch, err := detector.DecodeRawBatch(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := batch.Validate(); err != nil {
		return err
	}

	pc := cfg.ToPipelineConfig()
	pc.EnableModel = false
	p, err := pipeline.New(pc)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	slog.Debug("Normalizing predictions", "source", source, "images", len(batch.Predictions))

	noRefine, _ := cmd.Flags().GetBool("no-refine")
	var sets []layout.AnnotationSet
	var procErr error
	if noRefine {
		sets, procErr = p.Normalize(cmd.Context(), batch.Predictions, batch.ImageShapes())
	} else {
		var res *pipeline.BatchResult
		res, procErr = p.Process(cmd.Context(), batch.Predictions, batch.ImageShapes())
		if res != nil {
			sets = res.Annotations
			slog.Debug("Processing complete", "timings_ms", res.Timings)
		}
	}
	if sets == nil && procErr != nil {
		return procErr
	}

	if err := emit(cmd.OutOrStdout(), cfg.Output.File, sets, nil, cfg.Output.Format); err != nil {
		return errors.Join(procErr, err)
	}
	return procErr
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
	normalizeCmd.Flags().Float64("conf-thresh", 0.01, "minimum joint confidence before NMS")
	normalizeCmd.Flags().Float64("iou-thresh", 0.5, "NMS IoU threshold")
	normalizeCmd.Flags().Float64("min-score", 0.1, "drop detections at or below this score after NMS")
	normalizeCmd.Flags().Bool("class-agnostic", true, "run one NMS pass across all classes")
	normalizeCmd.Flags().Bool("no-refine", false, "skip the layout heuristics")
	normalizeCmd.Flags().Float64("final-thresh", 0.48, "minimum confidence kept for tables and charts")
	normalizeCmd.Flags().StringP("format", "f", "json", "output format (json, yaml, text)")
	normalizeCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
}
