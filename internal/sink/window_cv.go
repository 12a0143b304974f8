//go:build with_cv
// +build with_cv

package sink

import (
	"image"

	"gocv.io/x/gocv"
)

type window struct {
	w *gocv.Window
}

// NewWindow opens an OpenCV window. Width and height size the window when set.
func NewWindow(title string, width, height int) (Surface, error) {
	w := gocv.NewWindow(title)
	if width > 0 && height > 0 {
		w.ResizeWindow(width, height)
	}
	return &window{w: w}, nil
}

func (w *window) Show(img image.Image) error {
	rgba, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return err
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	w.w.IMShow(bgr)
	return nil
}

func (w *window) WaitKey(delayMs int) int { return w.w.WaitKey(delayMs) }

func (w *window) IsOpen() bool { return w.w.IsOpen() }

func (w *window) Close() error { return w.w.Close() }
