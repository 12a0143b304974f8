//go:build with_cv
// +build with_cv

package transform

import (
	"fmt"
	"image"

	"github.com/andresmejia3/vidproc/internal/types"
	"gocv.io/x/gocv"
)

// background keeps the pixels a MOG2 background model classifies as moving
// foreground (shadows included). The model learns from every frame it sees.
type background struct {
	mog gocv.BackgroundSubtractorMOG2
}

var _ Transform = (*background)(nil)

func newBackground() (Transform, error) {
	return &background{mog: gocv.NewBackgroundSubtractorMOG2()}, nil
}

func (b *background) Apply(f *types.Frame) (*types.Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	src, err := gocv.ImageToMatRGBA(f.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", types.ErrInvalidFrame, f.Index, err)
	}
	defer src.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(src, &bgr, gocv.ColorRGBAToBGR)

	mask := gocv.NewMat()
	defer mask.Close()
	b.mog.Apply(bgr, &mask)

	img, err := mask.ToImage()
	if err != nil {
		return nil, fmt.Errorf("unable to read the foreground mask: %w", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("unexpected foreground mask type %T", img)
	}
	return withImage(f, applyMask(f.Image, gray)), nil
}

func (b *background) Stateful() bool { return true }

func (b *background) Close() error { return b.mog.Close() }

func (b *background) String() string { return "segment(background)" }
