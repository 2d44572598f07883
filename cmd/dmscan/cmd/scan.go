package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/dmscan/internal/batch"
	"github.com/MeKo-Tech/dmscan/internal/config"
	"github.com/MeKo-Tech/dmscan/internal/ingest"
	"github.com/MeKo-Tech/dmscan/internal/pipeline"
	"github.com/MeKo-Tech/dmscan/internal/store"
	"github.com/spf13/cobra"
)

// Output formats of the scan command.
const (
	formatJSON = "json"
	formatText = "text"
	formatCSV  = "csv"
)

// scanReport is the outcome for one input.
type scanReport struct {
	Source string `json:"source"`
	Error  string `json:"error,omitempty"`
	*pipeline.Result
}

type scanOptions struct {
	format      string
	annotateDir string
	output      string
	workers     int
	discover    batch.DiscoverOptions
}

func newScanCommand(a *app) *cobra.Command {
	var opts scanOptions

	scanCmd := &cobra.Command{
		Use:   "scan [files or URLs...]",
		Short: "Detect codes in image files or URLs",
		Long: `Detect Data Matrix symbols and barcodes in local images or remote URLs.

Every input is processed independently; failures are reported per input and
make the command exit non-zero after all inputs were tried. Directories are
expanded to the supported images they contain; --recursive descends into
subdirectories and --include/--exclude filter file names by glob.

Examples:
  dmscan scan label.png
  dmscan scan --format text a.jpg b.jpg
  dmscan scan --backends dmtx --iou-threshold 0.3 label.png
  dmscan scan --recursive --include "*.jpg" --workers 4 photos/
  dmscan scan https://example.com/label.png --annotate-dir annotated/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if opts.output != "" {
				f, err := os.Create(opts.output) //nolint:gosec // G304: output path chosen by the user
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			return runScan(cmd.Context(), a.cfg, args, opts, out)
		},
	}

	f := scanCmd.Flags()
	f.StringVarP(&opts.format, "format", "f", formatJSON, "output format (json, text, csv)")
	f.StringVar(&opts.annotateDir, "annotate-dir", "", "write annotated images to this directory")
	f.StringVarP(&opts.output, "output", "o", "", "write results to a file instead of stdout")
	f.IntVarP(&opts.workers, "workers", "w", 0, "number of inputs processed concurrently (0 = number of CPUs)")
	f.BoolVarP(&opts.discover.Recursive, "recursive", "r", false, "descend into subdirectories")
	f.StringSliceVar(&opts.discover.Include, "include", nil, "only scan files matching these glob patterns")
	f.StringSliceVar(&opts.discover.Exclude, "exclude", nil, "skip files matching these glob patterns")
	f.StringSlice("backends", nil, "detection backends in priority order (zxing, dmtx)")
	f.StringSlice("formats", nil, "restrict symbologies (e.g. datamatrix,qrcode)")
	f.Float64("iou-threshold", pipeline.DefaultIoUThreshold, "overlap above which two detections are duplicates (0 disables)")
	f.Bool("try-harder", false, "spend more time per image")
	f.Bool("enhance", true, "retry with an enhanced image when nothing is found")

	a.bind(scanCmd, "detection.backends", "backends")
	a.bind(scanCmd, "detection.formats", "formats")
	a.bind(scanCmd, "detection.iou_threshold", "iou-threshold")
	a.bind(scanCmd, "detection.try_harder", "try-harder")
	a.bind(scanCmd, "detection.enhance_on_empty", "enhance")
	return scanCmd
}

// runScan detects codes in every input and writes the reports to w.
func runScan(ctx context.Context, cfg *config.Config, inputs []string, opts scanOptions, w io.Writer) error {
	switch opts.format {
	case formatJSON, formatText, formatCSV:
	default:
		return fmt.Errorf("unsupported output format %q (use json, text or csv)", opts.format)
	}

	p, err := cfg.ToPipelineBuilder().Build()
	if err != nil {
		return fmt.Errorf("failed to build detection pipeline: %w", err)
	}

	var annotator *pipeline.Annotator
	if opts.annotateDir != "" {
		st, err := store.NewLocalStore(opts.annotateDir)
		if err != nil {
			return fmt.Errorf("failed to prepare annotate directory: %w", err)
		}
		annCfg, err := cfg.ToAnnotatorConfig()
		if err != nil {
			return err
		}
		annotator = pipeline.NewAnnotator(st, annCfg)
	}
	fetcher := ingest.NewFetcher(cfg.ToFetchConfig())

	inputs, err = batch.Discover(inputs, opts.discover)
	if err != nil {
		return err
	}

	reports := batch.Process(ctx, inputs, opts.workers, func(ctx context.Context, input string) scanReport {
		return scanOne(ctx, p, fetcher, annotator, opts.annotateDir, input)
	})
	failed := 0
	for _, rep := range reports {
		if rep.Error != "" {
			failed++
			slog.Error("Scan failed", "input", rep.Source, "error", rep.Error)
		}
	}

	if err := writeReports(w, opts.format, reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(inputs))
	}
	return nil
}

// scanOne loads, detects and optionally annotates a single input.
func scanOne(ctx context.Context, p *pipeline.Pipeline, fetcher *ingest.Fetcher, ann *pipeline.Annotator, annotateDir, input string) scanReport {
	rep := scanReport{Source: input}

	var data []byte
	var err error
	if batch.IsURL(input) {
		data, err = fetcher.Fetch(ctx, input)
	} else {
		data, err = os.ReadFile(input) //nolint:gosec // G304: reading user-provided image path is expected
	}
	if err != nil {
		rep.Error = err.Error()
		return rep
	}

	img, meta, err := ingest.DecodeImage(data)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	set, err := p.Detect(ctx, img)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	slog.Debug("Scanned input",
		"input", input,
		"format", meta.Format,
		"width", meta.Width,
		"height", meta.Height,
		"count", len(set.Detections),
		"enhanced", set.Enhanced,
		"duration", set.Duration)
	for _, r := range set.Failed() {
		slog.Warn("Backend failed", "input", input, "backend", r.Backend, "error", r.Err)
	}

	rep.Result = pipeline.Assemble(set.Detections)
	if batch.IsURL(input) {
		rep.Result.WithSourceURL(input)
	}
	if ann != nil {
		art, err := ann.Annotate(ctx, img, set.Detections)
		if err != nil {
			rep.Result.WithAnnotationError(err)
		} else {
			rep.Result.WithArtifact(art, annotateDir, false)
		}
	}
	return rep
}

// writeReports renders reports in the requested format. A single
// successful JSON report is written as a bare result document.
func writeReports(w io.Writer, format string, reports []scanReport) error {
	switch format {
	case formatText:
		for i, rep := range reports {
			if len(reports) > 1 {
				if i > 0 {
					_, _ = fmt.Fprintln(w)
				}
				_, _ = fmt.Fprintf(w, "== %s ==\n", rep.Source)
			}
			if rep.Error != "" {
				_, _ = fmt.Fprintf(w, "error: %s\n", rep.Error)
				continue
			}
			text, err := pipeline.ToPlainText(rep.Result)
			if err != nil {
				return err
			}
			if text != "" {
				_, _ = fmt.Fprintln(w, text)
			}
		}
		return nil

	case formatCSV:
		cw := pipeline.NewCSVWriter(w, true)
		for _, rep := range reports {
			if rep.Result == nil {
				continue
			}
			if err := cw.Write(rep.Source, rep.Result); err != nil {
				return err
			}
		}
		return cw.Flush()

	default:
		if len(reports) == 1 && reports[0].Error == "" {
			doc, err := pipeline.ToJSON(reports[0].Result)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, doc)
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
}
