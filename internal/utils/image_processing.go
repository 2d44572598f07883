package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// EnhanceOptions controls the low-contrast recovery filter chain.
type EnhanceOptions struct {
	// Contrast is passed to imaging.AdjustContrast (range -100..100).
	Contrast float64
	// Sharpen is applied before blurring when positive.
	Sharpen float64
	// Blur sigma; values <= 0 skip the blur step.
	Blur float64
}

// DefaultEnhanceOptions mirror a mild local-contrast boost followed by a
// 3x3-equivalent smoothing pass.
func DefaultEnhanceOptions() EnhanceOptions {
	return EnhanceOptions{
		Contrast: 40,
		Sharpen:  0,
		Blur:     0.8,
	}
}

// Grayscale returns a grayscale copy of img.
func Grayscale(img image.Image) *image.NRGBA {
	return imaging.Grayscale(img)
}

// Enhance produces a grayscale, contrast-stretched and lightly smoothed copy
// of img. The input is never modified.
func Enhance(img image.Image, opts EnhanceOptions) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "enhance", Err: errors.New("input image is nil")}
	}
	out := imaging.Grayscale(img)
	if opts.Contrast != 0 {
		out = imaging.AdjustContrast(out, opts.Contrast)
	}
	if opts.Sharpen > 0 {
		out = imaging.Sharpen(out, opts.Sharpen)
	}
	if opts.Blur > 0 {
		out = imaging.Blur(out, opts.Blur)
	}
	return out, nil
}
