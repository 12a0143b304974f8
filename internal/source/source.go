// Package source turns a video file or a directory of still images into an
// ordered stream of RGBA frames.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/andresmejia3/vidproc/internal/utils"
)

// DefaultFrameRate is used for image sequences, which carry no timing of their own.
const DefaultFrameRate = 20

// Source produces decoded frames in stream order.
// Next returns io.EOF once the stream is exhausted; a Source cannot be rewound.
type Source interface {
	Info() types.VideoInfo
	Next(ctx context.Context) (*types.Frame, error)
	Close() error
}

// Options configures Open.
type Options struct {
	Tools utils.Tools
	// FrameRate overrides the cadence of image sequences. Zero means DefaultFrameRate.
	FrameRate float64
}

// Open inspects path and returns the matching Source.
// A missing path fails with ErrNotFound before anything is decoded.
func Open(ctx context.Context, path string, opts Options) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: unable to access %s: %v", types.ErrSource, path, err)
	}

	if info.IsDir() {
		return openImageSequence(path, opts)
	}
	return openFFmpeg(ctx, path, opts)
}

// ptsOf is the presentation time of frame index at a constant rate.
func ptsOf(index int, fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(index) * float64(time.Second) / fps))
}
