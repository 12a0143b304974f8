package transform

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/segment"
	"github.com/anthonynsimon/bild/util"
)

// SegmentOtsu splits the frame into foreground and background with a global
// luminance threshold chosen by Otsu's method. Foreground pixels keep their color,
// background pixels become opaque black.
func SegmentOtsu(img *image.RGBA) *image.RGBA {
	level := OtsuLevel(luminanceHistogram(img))
	return applyMask(img, segment.Threshold(img, level))
}

// luminanceHistogram bins pixels by the same rank segment.Threshold compares against.
func luminanceHistogram(img *image.RGBA) []int {
	hist := make([]int, 256)
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+4]
			hist[uint8(util.Rank(color.RGBA{p[0], p[1], p[2], p[3]}))]++
		}
	}
	return hist
}

// OtsuLevel returns the smallest level T maximizing between-class variance when
// ranks >= T are foreground. A histogram with a single populated bin returns 0,
// so a uniform frame is kept whole.
func OtsuLevel(hist []int) uint8 {
	var total, sumAll float64
	for i, n := range hist {
		total += float64(n)
		sumAll += float64(i) * float64(n)
	}

	var (
		wB, sumB float64
		best     = -1.0
		level    uint8
	)
	for t := 0; t < len(hist) && t < 255; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = uint8(t + 1)
		}
	}
	return level
}

// applyMask copies img where mask is non-zero and paints opaque black elsewhere.
func applyMask(img *image.RGBA, mask *image.Gray) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride:]
		out := dst.Pix[y*dst.Stride:]
		m := mask.Pix[y*mask.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if m[x] != 0 {
				copy(out[x*4:x*4+4], src[x*4:x*4+4])
			} else {
				out[x*4+3] = 0xFF
			}
		}
	}
	return dst
}
