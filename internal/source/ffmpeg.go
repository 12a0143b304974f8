package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/andresmejia3/vidproc/internal/utils"
	"github.com/sirupsen/logrus"
)

// ffmpegSource reads packed RGBA frames from an ffmpeg rawvideo pipe.
// It owns the decoder process for its whole lifetime. Close may be called
// while another goroutine is blocked in Next; the pending read then fails.
type ffmpegSource struct {
	info      types.VideoInfo
	decoder   *utils.SafeCommand
	out       io.ReadCloser
	cancel    context.CancelFunc
	frameSize int

	mu     sync.Mutex
	index  int
	done   bool
	closed bool

	waitOnce sync.Once
	waitErr  error
}

func openFFmpeg(ctx context.Context, path string, opts Options) (*ffmpegSource, error) {
	info, err := opts.Tools.Probe(ctx, path)
	if err != nil {
		if errors.Is(err, types.ErrUnsupportedFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrSource, err)
	}

	// Killing the decoder on Close must not depend on the caller cancelling ctx.
	ctx, cancel := context.WithCancel(ctx)
	decoder := opts.Tools.NewFFmpegRawDecoder(ctx, path)
	out, err := decoder.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to create decoder pipe: %v", types.ErrSource, err)
	}
	if err := decoder.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start decoder: %v", types.ErrSource, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "openFFmpeg",
		"path":     path,
		"width":    info.Width,
		"height":   info.Height,
		"fps":      info.FPS,
		"frames":   info.TotalFrames,
		"codec":    info.Codec,
	}).Debug("decoder started")

	return &ffmpegSource{
		info:      info,
		decoder:   decoder,
		out:       out,
		cancel:    cancel,
		frameSize: info.Width * info.Height * 4,
	}, nil
}

func (s *ffmpegSource) Info() types.VideoInfo { return s.info }

func (s *ffmpegSource) Next(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	if s.done || s.closed {
		s.mu.Unlock()
		return nil, io.EOF
	}
	index := s.index
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, s.frameSize)
	n, err := io.ReadFull(s.out, buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.done = true
		if werr := s.wait(); werr != nil {
			return nil, fmt.Errorf("%w: decoder exited: %v: %s", types.ErrSource, werr, s.decoder.Logs())
		}
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		_ = s.wait()
		return nil, fmt.Errorf("%w: frame %d truncated (%d of %d bytes)", types.ErrInvalidFrame, index, n, s.frameSize)
	default:
		return nil, fmt.Errorf("%w: reading frame %d: %v", types.ErrSource, index, err)
	}

	f := &types.Frame{
		Index: index,
		PTS:   ptsOf(index, s.info.FPS),
		Image: &image.RGBA{
			Pix:    buf,
			Stride: s.info.Width * 4,
			Rect:   image.Rect(0, 0, s.info.Width, s.info.Height),
		},
	}
	s.index++
	return f, nil
}

func (s *ffmpegSource) wait() error {
	s.waitOnce.Do(func() { s.waitErr = s.decoder.Wait() })
	return s.waitErr
}

// Close stops the decoder if it is still running. It is safe to call more than once.
func (s *ffmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.out.Close()
	// The process was killed above; its exit status carries no information.
	_ = s.wait()
	return nil
}
