// Package barcode wraps the decoder libraries behind a small Backend
// interface. Each backend reports backend-native RawHit values; turning them
// into canonical detection records is the pipeline's job.
package barcode
