package pipeline

import (
	"bytes"

	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// DefaultIoUThreshold is the overlap above which two boxes are taken to be
// the same symbol.
const DefaultIoUThreshold = 0.5

// SameCode reports whether a and b describe the same physical symbol:
// identical non-empty payloads, or bounding boxes whose IoU reaches
// threshold. Zero-area boxes never match by overlap and a threshold <= 0
// disables overlap matching.
func SameCode(a, b Detection, threshold float64) bool {
	pa, pb := payloadOf(a), payloadOf(b)
	if len(pa) > 0 && len(pb) > 0 && bytes.Equal(pa, pb) {
		return true
	}
	if threshold <= 0 {
		return false
	}
	return utils.IoU(a.Position.Box(), b.Position.Box()) >= threshold
}

// Dedupe drops every record that matches an earlier surviving record. The
// first occurrence wins and the survivors keep their relative order, so the
// backend priority order resolves ties.
func Dedupe(dets []Detection, threshold float64) []Detection {
	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		dup := false
		for _, k := range kept {
			if SameCode(k, d, threshold) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, d)
		}
	}
	return kept
}

// payloadOf falls back to the text for records built without raw bytes.
func payloadOf(d Detection) []byte {
	if d.Payload != nil {
		return d.Payload
	}
	return []byte(d.Data)
}
