package transform

import (
	"image"

	"github.com/anthonynsimon/bild/effect"
)

// Monochrome replaces every pixel with its luminance (0.3R + 0.6G + 0.1B, rounded),
// replicated over the three color channels. Alpha is kept.
// Gray input maps to itself, so the operation is idempotent.
func Monochrome(img *image.RGBA) *image.RGBA {
	return effect.Grayscale(img)
}
