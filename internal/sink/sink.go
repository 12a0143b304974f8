// Package sink receives transformed frames: an encoded video file, a directory
// of PNGs, an interactive window, or several of those at once.
package sink

import (
	"context"
	"image"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/anthonynsimon/bild/transform"
)

// Sink consumes frames in order.
// Exactly one of Commit or Abort finishes a Sink; further calls are no-ops.
type Sink interface {
	Emit(ctx context.Context, f *types.Frame) error
	Commit() error
	Abort() error
}

// fit resizes img to width x height unless either is zero or it already matches.
func fit(img *image.RGBA, width, height int) *image.RGBA {
	if width <= 0 || height <= 0 {
		return img
	}
	if b := img.Bounds(); b.Dx() == width && b.Dy() == height {
		return img
	}
	return transform.Resize(img, width, height, transform.Linear)
}

// Tee fans frames out to every sink in order.
type Tee []Sink

func (t Tee) Emit(ctx context.Context, f *types.Frame) error {
	for _, s := range t {
		if err := s.Emit(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Commit commits every sink and returns the first failure. Sinks after a
// failed one are aborted so no partial output is left behind.
func (t Tee) Commit() error {
	for i, s := range t {
		if err := s.Commit(); err != nil {
			for _, rest := range t[i+1:] {
				rest.Abort()
			}
			return err
		}
	}
	return nil
}

func (t Tee) Abort() error {
	var first error
	for _, s := range t {
		if err := s.Abort(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
