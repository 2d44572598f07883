package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/dmscan/internal/apperrors"
	"github.com/MeKo-Tech/dmscan/internal/store"
	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// ArtifactPrefix starts every annotated image filename.
const ArtifactPrefix = "result_"

const maxLabelRunes = 32

// AnnotatorConfig controls how annotated images are drawn and encoded.
type AnnotatorConfig struct {
	Format      string
	JPEGQuality int
	LineWidth   int
	// BoxColor is used for methods without an entry in MethodColors.
	BoxColor color.RGBA
	// MethodColors maps a backend name (without the enhanced suffix) to
	// its outline color.
	MethodColors map[string]color.RGBA
	LabelColor   color.RGBA
	LabelBG      color.RGBA
	DrawLabels   bool
}

// DefaultAnnotatorConfig returns green outlines for zxing, blue for dmtx.
func DefaultAnnotatorConfig() AnnotatorConfig {
	return AnnotatorConfig{
		Format:      "jpeg",
		JPEGQuality: 90,
		LineWidth:   2,
		BoxColor:    color.RGBA{R: 255, G: 0, B: 0, A: 255},
		MethodColors: map[string]color.RGBA{
			"zxing": {R: 0, G: 255, B: 0, A: 255},
			"dmtx":  {R: 0, G: 0, B: 255, A: 255},
		},
		LabelColor: color.RGBA{R: 255, G: 255, B: 255, A: 255},
		LabelBG:    color.RGBA{R: 0, G: 0, B: 0, A: 200},
		DrawLabels: true,
	}
}

// Artifact is an encoded annotated image.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
	// Persisted is set once the artifact has been written to the store.
	Persisted bool
}

// DataURL returns the artifact inlined as a base64 data URL.
func (a *Artifact) DataURL() string {
	return "data:" + a.ContentType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// Annotator draws detections onto a copy of the source image and optionally
// persists the result. It never modifies the input image.
type Annotator struct {
	cfg     AnnotatorConfig
	store   store.Store
	newName func(ext string) string
}

// NewAnnotator creates an annotator. A nil store makes Annotate fail while
// Render and Encode keep working.
func NewAnnotator(s store.Store, cfg AnnotatorConfig) *Annotator {
	if cfg.LineWidth < 1 {
		cfg.LineWidth = 1
	}
	if cfg.Format == "" {
		cfg.Format = "jpeg"
	}
	return &Annotator{cfg: cfg, store: s, newName: uniqueName}
}

// Store returns the artifact store, which may be nil.
func (a *Annotator) Store() store.Store { return a.store }

// Render draws every detection's polygon and label onto a fresh RGBA copy.
func (a *Annotator) Render(img image.Image, dets []Detection) *image.RGBA {
	dst := utils.CloneRGBA(img)
	for i, d := range dets {
		col := a.colorFor(d.Method)
		utils.DrawRect(dst, d.Position.Rect(), col, a.cfg.LineWidth)
		if pts := d.Position.Points(); len(pts) >= 2 {
			utils.DrawPolygon(dst, pts, col, a.cfg.LineWidth)
		}
		if a.cfg.DrawLabels {
			utils.DrawLabel(dst, image.Pt(d.Position.X, d.Position.Y), Label(i, d), a.cfg.LabelColor, a.cfg.LabelBG)
		}
	}
	return dst
}

// Encode renders dets and encodes the result under a fresh unique filename.
// Nothing is persisted.
func (a *Annotator) Encode(img image.Image, dets []Detection) (*Artifact, error) {
	if img == nil {
		return nil, apperrors.NewProcessingError("no image to annotate", nil)
	}
	var buf bytes.Buffer
	if err := utils.EncodeImage(&buf, a.Render(img, dets), a.cfg.Format, a.cfg.JPEGQuality); err != nil {
		return nil, apperrors.NewProcessingError("failed to encode annotated image", err)
	}
	ext, ct := utils.ImageFormatInfo(a.cfg.Format)
	return &Artifact{Filename: a.newName(ext), ContentType: ct, Data: buf.Bytes()}, nil
}

// Annotate renders, encodes and persists the annotated image.
func (a *Annotator) Annotate(ctx context.Context, img image.Image, dets []Detection) (*Artifact, error) {
	art, err := a.Encode(img, dets)
	if err != nil {
		return nil, err
	}
	if err := a.Persist(ctx, art); err != nil {
		return art, err
	}
	return art, nil
}

// Persist writes an already encoded artifact to the store.
func (a *Annotator) Persist(ctx context.Context, art *Artifact) error {
	if a.store == nil {
		return apperrors.NewProcessingError("no artifact store configured", nil)
	}
	if err := a.store.Save(ctx, art.Filename, art.Data, art.ContentType); err != nil {
		return apperrors.NewProcessingError("failed to persist annotated image", err)
	}
	art.Persisted = true
	slog.Debug("Annotated image saved", "name", art.Filename, "store", a.store.Kind(), "bytes", len(art.Data))
	return nil
}

func (a *Annotator) colorFor(method string) color.RGBA {
	base := strings.TrimSuffix(method, EnhancedSuffix)
	if c, ok := a.cfg.MethodColors[base]; ok {
		return c
	}
	return a.cfg.BoxColor
}

// Label is the caption drawn next to the i-th detection: its payload,
// truncated, followed by the symbology when known.
func Label(i int, d Detection) string {
	text := d.Data
	if r := []rune(text); len(r) > maxLabelRunes {
		text = string(r[:maxLabelRunes-3]) + "..."
	}
	if d.Type == "" {
		return fmt.Sprintf("DM%d: %s", i+1, text)
	}
	return fmt.Sprintf("DM%d: %s [%s]", i+1, text, d.Type)
}

func uniqueName(ext string) string {
	return ArtifactPrefix + uuid.NewString() + ext
}
