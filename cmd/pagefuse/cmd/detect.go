package cmd

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/pagefuse/internal/common"
	"github.com/MeKo-Tech/pagefuse/internal/pipeline"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
	"github.com/spf13/cobra"
)

// detectCmd runs the local page-elements model on images.
var detectCmd = &cobra.Command{
	Use:   "detect [images or directories...]",
	Short: "Detect tables, charts and titles in page images",
	Long: `Run the YOLOX page-elements ONNX model on one or more page images and
print the refined annotations.

Supported formats: JPEG, PNG, BMP

Examples:
  pagefuse detect page.png
  pagefuse detect *.png --batch-size 4 --format text
  pagefuse detect scans/ --recursive --exclude 'draft_*'
  pagefuse detect page.jpg --model /opt/models/yolox_page_elements_v2.onnx --gpu`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, []flagBinding{
			{"model.path", "model"},
			{"model.num_threads", "threads"},
			{"gpu.enabled", "gpu"},
			{"gpu.device", "gpu-device"},
			{"pipeline.max_batch_size", "batch-size"},
			{"pipeline.warmup_iterations", "warmup"},
			{"refine.final_thresh", "final-thresh"},
			{"output.format", "format"},
			{"output.file", "output"},
		})
	},
	RunE: runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	recursive, _ := cmd.Flags().GetBool("recursive")
	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	paths, err := discoverImages(args, recursive, include, exclude)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images found in %v", args)
	}
	for _, path := range paths {
		if !utils.IsSupportedImage(path) {
			return fmt.Errorf("unsupported image format: %s", path)
		}
	}

	total := common.NewNamedTimer("detect")
	loaded := utils.BatchLoadImages(paths)
	images := make([]image.Image, 0, len(loaded))
	var loadErrs []error
	for _, res := range loaded {
		if res.Err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("%s: %w", res.Path, res.Err))
			continue
		}
		slog.Debug("Loaded image", "path", res.Path, "width", res.Meta.Width, "height", res.Meta.Height)
		images = append(images, res.Img)
	}
	if len(loadErrs) > 0 {
		return errors.Join(loadErrs...)
	}

	pc := cfg.ToPipelineConfig()
	pc.EnableModel = true
	if cfg.Verbose {
		pc.Parallel.ProgressCallback = pipeline.NewLogProgressCallback(slog.Default(), "normalize")
	}
	p, err := pipeline.New(pc)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	res, detErr := p.DetectImages(cmd.Context(), images)
	if res == nil {
		return fmt.Errorf("detection failed: %w", detErr)
	}
	slog.Info("Detection complete", "images", len(images), "duration", total.Stop().String(), "timings_ms", res.Timings)

	if err := emit(cmd.OutOrStdout(), cfg.Output.File, res.Annotations, paths, cfg.Output.Format); err != nil {
		return errors.Join(detErr, err)
	}
	return detErr
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
	detectCmd.Flags().StringSlice("include", nil, "only process files whose name matches these patterns")
	detectCmd.Flags().StringSlice("exclude", nil, "skip files whose name matches these patterns")
	detectCmd.Flags().String("model", "", "override page-elements model path")
	detectCmd.Flags().Int("threads", 0, "ONNX Runtime intra-op threads (0 = default)")
	detectCmd.Flags().Bool("gpu", false, "enable GPU acceleration via CUDA")
	detectCmd.Flags().Int("gpu-device", 0, "CUDA device ID")
	detectCmd.Flags().Int("batch-size", 8, "images per model run")
	detectCmd.Flags().Int("warmup", 0, "warmup iterations before processing")
	detectCmd.Flags().Float64("final-thresh", 0.48, "minimum confidence kept for tables and charts")
	detectCmd.Flags().StringP("format", "f", "json", "output format (json, yaml, text)")
	detectCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
}
