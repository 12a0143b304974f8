package types

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Frame is one decoded picture of a video, tagged with its position in the stream.
// Frames are never mutated after they are produced; transforms allocate new images.
type Frame struct {
	Index int
	PTS   time.Duration
	Image *image.RGBA
}

// Validate reports ErrInvalidFrame when the pixel buffer cannot hold the frame's bounds.
func (f *Frame) Validate() error {
	if f == nil || f.Image == nil {
		return fmt.Errorf("%w: missing image", ErrInvalidFrame)
	}
	b := f.Image.Bounds()
	if b.Empty() {
		return fmt.Errorf("%w: frame %d has empty bounds", ErrInvalidFrame, f.Index)
	}
	if f.Image.Stride < b.Dx()*4 {
		return fmt.Errorf("%w: frame %d stride %d is shorter than a row (%d)", ErrInvalidFrame, f.Index, f.Image.Stride, b.Dx()*4)
	}
	need := (b.Dy()-1)*f.Image.Stride + b.Dx()*4
	if len(f.Image.Pix) < need {
		return fmt.Errorf("%w: frame %d has %d bytes, need %d", ErrInvalidFrame, f.Index, len(f.Image.Pix), need)
	}
	return nil
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

// FrameTask is a frame waiting on a transform worker.
type FrameTask struct {
	Index int
	Frame *Frame
}

// FrameResult is what a transform worker hands back to the driver.
type FrameResult struct {
	Index int
	Frame *Frame
	Err   error
}

// VideoInfo describes the stream a Source produces.
type VideoInfo struct {
	Path        string
	Width       int
	Height      int
	FPS         float64
	TotalFrames int // 0 when unknown
	Codec       string
}

// FrameDuration is the display time of a single frame at the stream's rate.
func (v VideoInfo) FrameDuration() time.Duration {
	if v.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / v.FPS)
}

// Mode selects the per-frame operation for one run.
type Mode int

const (
	ModeUndefined Mode = iota
	ModeSegment
	ModeMonochrome
)

func (m Mode) String() string {
	switch m {
	case ModeSegment:
		return "segment"
	case ModeMonochrome:
		return "monochrome"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "segment":
		return ModeSegment, nil
	case "monochrome":
		return ModeMonochrome, nil
	}
	return ModeUndefined, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Segmenter picks the rule used by ModeSegment.
type Segmenter string

const (
	// SegmenterOtsu thresholds every frame on luminance independently.
	SegmenterOtsu Segmenter = "otsu"
	// SegmenterBackground keeps pixels a MOG2 background model flags as foreground.
	SegmenterBackground Segmenter = "background"
)

// ParseSegmenter validates a --segmenter value.
func ParseSegmenter(s string) (Segmenter, error) {
	switch Segmenter(strings.ToLower(strings.TrimSpace(s))) {
	case SegmenterOtsu, "":
		return SegmenterOtsu, nil
	case SegmenterBackground:
		return SegmenterBackground, nil
	}
	return "", fmt.Errorf("%w: unknown segmenter %q (use otsu or background)", ErrUsage, s)
}
