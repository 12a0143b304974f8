package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/imgio"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
}

// imageSequence plays a directory of still images, in file name order, as a video.
type imageSequence struct {
	info  types.VideoInfo
	files []string
	first *image.RGBA

	mu    sync.Mutex
	index int
}

func openImageSequence(dir string, opts Options) (*imageSequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to list %s: %v", types.ErrSource, dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s contains no images", types.ErrUnsupportedFormat, dir)
	}

	img, err := imgio.Open(files[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrUnsupportedFormat, files[0], err)
	}
	first := clone.AsRGBA(img)

	fps := opts.FrameRate
	if fps <= 0 {
		fps = DefaultFrameRate
	}

	return &imageSequence{
		info: types.VideoInfo{
			Path:        dir,
			Width:       first.Bounds().Dx(),
			Height:      first.Bounds().Dy(),
			FPS:         fps,
			TotalFrames: len(files),
			Codec:       "images",
		},
		files: files,
		first: first,
	}, nil
}

func (s *imageSequence) Info() types.VideoInfo { return s.info }

func (s *imageSequence) Next(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index >= len(s.files) {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rgba *image.RGBA
	if s.index == 0 && s.first != nil {
		rgba, s.first = s.first, nil
	} else {
		img, err := imgio.Open(s.files[s.index])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidFrame, s.files[s.index], err)
		}
		rgba = clone.AsRGBA(img)
	}

	if b := rgba.Bounds(); b.Dx() != s.info.Width || b.Dy() != s.info.Height {
		return nil, fmt.Errorf("%w: %s is %dx%d, sequence is %dx%d",
			types.ErrInvalidFrame, s.files[s.index], b.Dx(), b.Dy(), s.info.Width, s.info.Height)
	}

	f := &types.Frame{
		Index: s.index,
		PTS:   ptsOf(s.index, s.info.FPS),
		Image: rgba,
	}
	s.index++
	return f, nil
}

func (s *imageSequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = len(s.files)
	s.first = nil
	return nil
}
