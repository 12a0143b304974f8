package sink

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/andresmejia3/vidproc/internal/utils"
	"github.com/sirupsen/logrus"
)

// DefaultCodec is the encoder used when none is configured.
const DefaultCodec = "libx264"

// VideoFileOptions configures a VideoFile sink.
type VideoFileOptions struct {
	Tools utils.Tools
	Codec string
	FPS   float64
	// Width and Height resize every frame before encoding. Zero keeps the
	// size of the first frame, and later frames must match it.
	Width  int
	Height int
}

// VideoFile encodes frames with ffmpeg. Output goes to a hidden file next to
// the target and only replaces the target on Commit.
type VideoFile struct {
	path string
	tmp  string
	opts VideoFileOptions

	encoder *utils.SafeCommand
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	width   int
	height  int
	frames  int
	done    bool
}

// NewVideoFile prepares path for writing. The encoder starts on the first frame.
func NewVideoFile(path string, opts VideoFileOptions) (*VideoFile, error) {
	if opts.Codec == "" {
		opts.Codec = DefaultCodec
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("%w: output frame rate must be positive, got %v", types.ErrUsage, opts.FPS)
	}
	dir := filepath.Dir(path)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: output directory %s does not exist", types.ErrSink, dir)
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	return &VideoFile{
		path:   path,
		tmp:    filepath.Join(dir, "."+stem+".partial"+ext),
		opts:   opts,
		width:  opts.Width,
		height: opts.Height,
	}, nil
}

// Path is the final output location.
func (v *VideoFile) Path() string { return v.path }

func (v *VideoFile) Emit(ctx context.Context, f *types.Frame) error {
	if v.done {
		return fmt.Errorf("%w: emit after close", types.ErrSink)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}

	if v.encoder == nil {
		if v.width == 0 || v.height == 0 {
			v.width, v.height = f.Width(), f.Height()
		}
		if err := v.start(); err != nil {
			return err
		}
	}

	img := f.Image
	if v.opts.Width > 0 && v.opts.Height > 0 {
		img = fit(img, v.width, v.height)
	} else if f.Width() != v.width || f.Height() != v.height {
		return fmt.Errorf("%w: frame %d is %dx%d, output is %dx%d",
			types.ErrInvalidFrame, f.Index, f.Width(), f.Height(), v.width, v.height)
	}

	b := img.Bounds()
	row := b.Dx() * 4
	if img.Stride == row && b.Min == (image.Point{}) {
		if _, err := v.stdin.Write(img.Pix[:row*b.Dy()]); err != nil {
			return v.writeErr(f.Index, err)
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := img.PixOffset(b.Min.X, y)
			if _, err := v.stdin.Write(img.Pix[off : off+row]); err != nil {
				return v.writeErr(f.Index, err)
			}
		}
	}
	v.frames++
	return nil
}

func (v *VideoFile) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	enc := v.opts.Tools.NewFFmpegEncoder(ctx, v.tmp, v.opts.Codec, v.opts.FPS, v.width, v.height)
	stdin, err := enc.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: failed to create encoder pipe: %v", types.ErrSink, err)
	}
	if err := enc.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: failed to start encoder: %v", types.ErrSink, err)
	}
	v.encoder, v.stdin, v.cancel = enc, stdin, cancel

	logrus.WithFields(logrus.Fields{
		"function": "VideoFile.start",
		"path":     v.path,
		"codec":    v.opts.Codec,
		"width":    v.width,
		"height":   v.height,
		"fps":      v.opts.FPS,
	}).Debug("encoder started")
	return nil
}

func (v *VideoFile) writeErr(index int, err error) error {
	return fmt.Errorf("%w: writing frame %d to encoder: %v: %s", types.ErrSink, index, err, v.encoder.Logs())
}

// Commit flushes the encoder and moves the finished file into place.
func (v *VideoFile) Commit() error {
	if v.done {
		return nil
	}
	v.done = true
	if v.encoder == nil {
		return fmt.Errorf("%w: no frames to encode", types.ErrSink)
	}
	defer v.cancel()

	v.stdin.Close()
	if err := v.encoder.Wait(); err != nil {
		os.Remove(v.tmp)
		return fmt.Errorf("%w: encoder failed: %v: %s", types.ErrSink, err, v.encoder.Logs())
	}
	if err := os.Rename(v.tmp, v.path); err != nil {
		os.Remove(v.tmp)
		return fmt.Errorf("%w: %v", types.ErrSink, err)
	}
	return nil
}

// Abort kills the encoder and removes anything it wrote.
func (v *VideoFile) Abort() error {
	if v.done {
		return nil
	}
	v.done = true
	if v.encoder == nil {
		return nil
	}
	v.cancel()
	v.stdin.Close()
	// Killed above; the exit status only says so.
	_ = v.encoder.Wait()
	if err := os.Remove(v.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing partial output: %v", types.ErrSink, err)
	}
	return nil
}
