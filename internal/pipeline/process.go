package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/pagefuse/internal/common"
	"github.com/MeKo-Tech/pagefuse/internal/detector"
	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/metrics"
	"github.com/MeKo-Tech/pagefuse/internal/refine"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoModel is returned by DetectImages when the pipeline has no model.
var ErrNoModel = errors.New("page-elements model not configured")

// BatchResult holds one AnnotationSet per input image plus stage timings.
type BatchResult struct {
	Annotations []layout.AnnotationSet `json:"annotations"`
	Timings     map[string]float64     `json:"timings_ms,omitempty"`
}

// Normalize decodes raw detector rows (one entry per image) into
// AnnotationSets. Per-image shape errors leave an empty set at that index
// and are joined into the returned error.
func (p *Pipeline) Normalize(ctx context.Context, raw [][][]float32, shapes []detector.ImageShape) ([]layout.AnnotationSet, error) {
	return p.normalizeFrom(ctx, 0, raw, shapes)
}

// normalizeFrom labels errors with offset+i so chunked batches report
// positions in the caller's full batch.
func (p *Pipeline) normalizeFrom(ctx context.Context, offset int, raw [][][]float32,
	shapes []detector.ImageShape,
) ([]layout.AnnotationSet, error) {
	if len(shapes) != len(raw) {
		return nil, &layout.PrecomputedDataMismatchError{Field: "shapes", Got: len(shapes), Want: len(raw)}
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.normalize",
		trace.WithAttributes(attribute.Int("images", len(raw)), attribute.Int("offset", offset)))
	defer span.End()

	timer := common.NewNamedTimer("normalize")
	sets, errs := runOrdered(ctx, len(raw), p.cfg.Parallel,
		func(_ context.Context, i int) (layout.AnnotationSet, error) {
			return detector.NormalizeImage(offset+i, raw[i], shapes[i], p.cfg.Normalize)
		})
	metrics.StageDuration.WithLabelValues("normalize").Observe(timer.Stop().Seconds())

	for i, err := range errs {
		status := "ok"
		if err != nil {
			status = "error"
			sets[i] = layout.NewAnnotationSet()
		}
		metrics.ImagesProcessed.WithLabelValues("normalize", status).Inc()
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalize failed for some images")
	}
	return sets, err
}

// Refine applies the layout heuristics and the final filter with the
// pipeline's refine options.
func (p *Pipeline) Refine(ctx context.Context, sets []layout.AnnotationSet) ([]layout.AnnotationSet, error) {
	return p.RefineWith(ctx, sets, p.cfg.Refine)
}

// RefineWith is Refine with explicit options, e.g. a per-request threshold.
func (p *Pipeline) RefineWith(ctx context.Context, sets []layout.AnnotationSet, opts refine.Options) ([]layout.AnnotationSet, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid refine options: %w", err)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.refine", trace.WithAttributes(attribute.Int("images", len(sets))))
	defer span.End()

	timer := common.NewNamedTimer("refine")
	out, errs := runOrdered(ctx, len(sets), p.cfg.Parallel,
		func(_ context.Context, i int) (layout.AnnotationSet, error) {
			set, err := refine.Refine(sets[i], opts)
			if err != nil {
				return layout.NewAnnotationSet(), fmt.Errorf("image %d: %w", i, err)
			}
			return set, nil
		})
	metrics.StageDuration.WithLabelValues("refine").Observe(timer.Stop().Seconds())

	for i, err := range errs {
		if err != nil {
			metrics.ImagesProcessed.WithLabelValues("refine", "error").Inc()
			continue
		}
		metrics.ImagesProcessed.WithLabelValues("refine", "ok").Inc()
		for _, label := range layout.Labels() {
			metrics.DetectionsEmitted.WithLabelValues(label.String()).Add(float64(len(out[i].Get(label))))
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refine failed")
		return nil, err
	}
	return out, nil
}

// Process normalizes raw detector output and refines the result. Images
// with shape errors stay empty; the joined error is returned alongside the
// result.
func (p *Pipeline) Process(ctx context.Context, raw [][][]float32, shapes []detector.ImageShape) (*BatchResult, error) {
	timings := common.NewTimings()

	t := common.NewNamedTimer("normalize")
	sets, normErr := p.Normalize(ctx, raw, shapes)
	t.Stop()
	timings.Add(t)
	if sets == nil {
		return nil, normErr
	}

	t = common.NewNamedTimer("refine")
	refined, err := p.Refine(ctx, sets)
	t.Stop()
	timings.Add(t)
	if err != nil {
		return nil, err
	}

	slog.Debug("Processed batch", "images", len(raw), "timings", timings.String())
	return &BatchResult{Annotations: refined, Timings: timings.Milliseconds()}, normErr
}

// DetectImages runs letterbox preprocessing, model inference, normalization
// and refinement over images in chunks of MaxBatchSize.
func (p *Pipeline) DetectImages(ctx context.Context, images []image.Image) (*BatchResult, error) {
	if p.model == nil {
		return nil, ErrNoModel
	}
	if len(images) == 0 {
		return &BatchResult{Annotations: []layout.AnnotationSet{}}, nil
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.detect", trace.WithAttributes(attribute.Int("images", len(images))))
	defer span.End()

	timings := common.NewTimings()
	sets := make([]layout.AnnotationSet, 0, len(images))
	var normErrs []error

	for start := 0; start < len(images); start += p.cfg.MaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+p.cfg.MaxBatchSize, len(images))

		t := common.NewNamedTimer("inference")
		out, shapes, err := p.model.Infer(images[start:end])
		t.Stop()
		timings.Add(t)
		if err != nil {
			metrics.ImagesProcessed.WithLabelValues("detect", "error").Add(float64(end - start))
			span.RecordError(err)
			return nil, fmt.Errorf("inference failed for images %d-%d: %w", start, end-1, err)
		}
		metrics.ImagesProcessed.WithLabelValues("detect", "ok").Add(float64(end - start))
		metrics.StageDuration.WithLabelValues("inference").Observe(t.Duration().Seconds())

		raw, err := detector.SplitTensor(out)
		if err != nil {
			return nil, err
		}

		t = common.NewNamedTimer("normalize")
		chunk, err := p.normalizeFrom(ctx, start, raw, shapes)
		t.Stop()
		timings.Add(t)
		if chunk == nil {
			return nil, err
		}
		if err != nil {
			normErrs = append(normErrs, err)
		}
		sets = append(sets, chunk...)
	}

	t := common.NewNamedTimer("refine")
	refined, err := p.Refine(ctx, sets)
	t.Stop()
	timings.Add(t)
	if err != nil {
		return nil, err
	}

	slog.Info("Detected page elements", "images", len(images), "timings", timings.String())
	return &BatchResult{Annotations: refined, Timings: timings.Milliseconds()}, errors.Join(normErrs...)
}
