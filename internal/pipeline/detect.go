package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/dmscan/internal/barcode"
	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// Detect runs every backend in priority order, normalizes and deduplicates
// their hits. A failing or panicking backend contributes nothing and is
// reported in the set's Reports. Zero detections is a valid result; an
// error is returned only for a nil image or a cancelled context.
func (p *Pipeline) Detect(ctx context.Context, img image.Image) (*DetectionSet, error) {
	if img == nil {
		return nil, errors.New("pipeline: nil image")
	}
	start := time.Now()

	dets, reports := p.runBackends(ctx, img, "")
	set := &DetectionSet{Reports: reports}

	if len(dets) == 0 && p.cfg.EnhanceOnEmpty && ctx.Err() == nil {
		enhanced, err := utils.Enhance(img, p.cfg.Enhance)
		if err != nil {
			slog.Warn("Image enhancement failed", "error", err)
		} else {
			retry, retryReports := p.runBackends(ctx, enhanced, EnhancedSuffix)
			set.Reports = append(set.Reports, retryReports...)
			// imaging output starts at (0,0)
			if off := img.Bounds().Min; off != (image.Point{}) {
				for i := range retry {
					retry[i].Position = shiftPosition(retry[i].Position, off)
				}
			}
			if len(retry) > 0 {
				dets = retry
				set.Enhanced = true
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set.Detections = Dedupe(dets, p.cfg.IoUThreshold)
	set.Dropped = len(dets) - len(set.Detections)
	set.Duration = time.Since(start)

	slog.Debug("Detection complete",
		"raw", len(dets),
		"kept", len(set.Detections),
		"dropped", set.Dropped,
		"enhanced", set.Enhanced,
		"duration", set.Duration)
	return set, nil
}

type backendOutcome struct {
	dets   []Detection
	report BackendReport
}

// runBackends returns normalized hits concatenated in backend priority
// order regardless of execution mode.
func (p *Pipeline) runBackends(ctx context.Context, img image.Image, suffix string) ([]Detection, []BackendReport) {
	outcomes := make([]backendOutcome, len(p.backends))

	if p.cfg.Parallel && len(p.backends) > 1 {
		var wg sync.WaitGroup
		for i, be := range p.backends {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[i] = runBackend(ctx, be, img, suffix)
			}()
		}
		wg.Wait()
	} else {
		for i, be := range p.backends {
			if ctx.Err() != nil {
				outcomes = outcomes[:i]
				break
			}
			outcomes[i] = runBackend(ctx, be, img, suffix)
		}
	}

	var dets []Detection
	reports := make([]BackendReport, 0, len(outcomes))
	for _, o := range outcomes {
		dets = append(dets, o.dets...)
		reports = append(reports, o.report)
	}
	return dets, reports
}

// runBackend isolates one backend: errors and panics become a report with
// no hits.
func runBackend(ctx context.Context, be barcode.Backend, img image.Image, suffix string) (out backendOutcome) {
	method := be.Name() + suffix
	start := time.Now()
	report := BackendReport{Backend: method, Enhanced: suffix != ""}

	defer func() {
		if r := recover(); r != nil {
			report.Err = fmt.Errorf("backend %s panicked: %v", method, r)
			report.Duration = time.Since(start)
			slog.Error("Backend panicked", "backend", method, "panic", r)
			out = backendOutcome{report: report}
		}
	}()

	hits, err := be.Scan(ctx, img)
	report.Duration = time.Since(start)
	if err != nil {
		report.Err = err
		slog.Warn("Backend failed", "backend", method, "error", err, "duration", report.Duration)
		return backendOutcome{report: report}
	}

	bounds := img.Bounds()
	dets := make([]Detection, 0, len(hits))
	for _, h := range hits {
		if h == nil {
			continue
		}
		dets = append(dets, Normalize(method, h, bounds))
	}
	report.Hits = len(dets)
	slog.Debug("Backend finished", "backend", method, "hits", report.Hits, "duration", report.Duration)
	return backendOutcome{dets: dets, report: report}
}

func shiftPosition(p Position, off image.Point) Position {
	p.X += off.X
	p.Y += off.Y
	poly := make([]Vertex, len(p.Polygon))
	for i, v := range p.Polygon {
		poly[i] = Vertex{v[0] + off.X, v[1] + off.Y}
	}
	p.Polygon = poly
	return p
}
