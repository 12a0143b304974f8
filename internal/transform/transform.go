// Package transform implements the per-frame operations selected by a Mode.
package transform

import (
	"fmt"
	"image"

	"github.com/andresmejia3/vidproc/internal/types"
)

// Transform maps one input frame to one new output frame.
type Transform interface {
	fmt.Stringer
	Apply(f *types.Frame) (*types.Frame, error)
	// Stateful transforms depend on earlier frames and must see frames in order,
	// one at a time.
	Stateful() bool
	Close() error
}

// Apply runs the stateless operation for mode on f. It never modifies f.
func Apply(f *types.Frame, mode types.Mode) (*types.Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	switch mode {
	case types.ModeMonochrome:
		return withImage(f, Monochrome(f.Image)), nil
	case types.ModeSegment:
		return withImage(f, SegmentOtsu(f.Image)), nil
	default:
		return nil, fmt.Errorf("%w: %v", types.ErrUnknownMode, mode)
	}
}

// New builds the Transform for a run. seg is only consulted for ModeSegment.
func New(mode types.Mode, seg types.Segmenter) (Transform, error) {
	switch mode {
	case types.ModeMonochrome:
		return stateless{mode: mode}, nil
	case types.ModeSegment:
		switch seg {
		case types.SegmenterOtsu, "":
			return stateless{mode: mode}, nil
		case types.SegmenterBackground:
			return newBackground()
		default:
			return nil, fmt.Errorf("%w: unknown segmenter %q", types.ErrUsage, seg)
		}
	default:
		return nil, fmt.Errorf("%w: %v", types.ErrUnknownMode, mode)
	}
}

type stateless struct {
	mode types.Mode
}

func (s stateless) Apply(f *types.Frame) (*types.Frame, error) { return Apply(f, s.mode) }
func (s stateless) Stateful() bool                             { return false }
func (s stateless) Close() error                               { return nil }
func (s stateless) String() string                             { return s.mode.String() }

func withImage(f *types.Frame, img *image.RGBA) *types.Frame {
	return &types.Frame{Index: f.Index, PTS: f.PTS, Image: img}
}
