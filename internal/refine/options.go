package refine

import (
	"fmt"
	"log/slog"
)

// Options holds the layout heuristic constants.
type Options struct {
	// FinalThreshold is the minimum confidence kept for tables and charts.
	FinalThreshold float64
	// TableExpandRatio is the fraction of a table's height added above it.
	TableExpandRatio float64
	// ChartFusionIoU is the IoU threshold for coalescing same-label duplicates
	// before charts are matched with titles.
	ChartFusionIoU float64
	// TitleIoUThreshold is the overlap above which a title belongs to a chart.
	TitleIoUThreshold float64
	// TitleDistanceThreshold bounds the proximity score of an adjacent title.
	TitleDistanceThreshold float64

	MatchedExpandX   float64
	MatchedExpandY   float64
	UnmatchedExpandX float64
	UnmatchedExpandY float64

	Logger *slog.Logger
}

// DefaultOptions returns the standard page-elements heuristics.
func DefaultOptions() Options {
	return Options{
		FinalThreshold:         0.48,
		TableExpandRatio:       0.2,
		ChartFusionIoU:         0.01,
		TitleIoUThreshold:      0.01,
		TitleDistanceThreshold: 0.1,
		MatchedExpandX:         1.05,
		MatchedExpandY:         1.10,
		UnmatchedExpandX:       1.10,
		UnmatchedExpandY:       1.25,
	}
}

// Validate checks that ratios and thresholds are usable.
func (o Options) Validate() error {
	if o.TableExpandRatio < 0 {
		return fmt.Errorf("table expand ratio must be non-negative, got %f", o.TableExpandRatio)
	}
	if o.ChartFusionIoU < 0 || o.ChartFusionIoU >= 1 {
		return fmt.Errorf("chart fusion IoU must be in [0,1), got %f", o.ChartFusionIoU)
	}
	if o.TitleIoUThreshold < 0 || o.TitleIoUThreshold >= 1 {
		return fmt.Errorf("title IoU threshold must be in [0,1), got %f", o.TitleIoUThreshold)
	}
	if o.TitleDistanceThreshold < 0 {
		return fmt.Errorf("title distance threshold must be non-negative, got %f", o.TitleDistanceThreshold)
	}
	for name, r := range map[string]float64{
		"matched x":   o.MatchedExpandX,
		"matched y":   o.MatchedExpandY,
		"unmatched x": o.UnmatchedExpandX,
		"unmatched y": o.UnmatchedExpandY,
	} {
		if r <= 0 {
			return fmt.Errorf("%s expand ratio must be positive, got %f", name, r)
		}
	}
	return nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
