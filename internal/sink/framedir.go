package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/anthonynsimon/bild/imgio"
)

// FrameDir writes one PNG per frame. Frames land in <dir>.partial and the
// directory is renamed to dir on Commit.
type FrameDir struct {
	dir    string
	tmp    string
	width  int
	height int
	frames int
	done   bool
}

var frameNamePattern = regexp.MustCompile(`^frame_\d{6}\.png$`)

// NewFrameDir creates the staging directory. Width and height resize frames
// when both are set. An existing dir is only replaced if it holds nothing but
// frames from an earlier dump.
func NewFrameDir(dir string, width, height int) (*FrameDir, error) {
	dir = filepath.Clean(dir)
	if err := checkReplaceable(dir); err != nil {
		return nil, err
	}
	tmp := dir + ".partial"
	if err := os.RemoveAll(tmp); err != nil {
		return nil, fmt.Errorf("%w: clearing %s: %v", types.ErrSink, tmp, err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSink, err)
	}
	return &FrameDir{dir: dir, tmp: tmp, width: width, height: height}, nil
}

func checkReplaceable(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSink, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s exists and is not a directory", types.ErrUsage, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSink, err)
	}
	for _, e := range entries {
		if e.IsDir() || !frameNamePattern.MatchString(e.Name()) {
			return fmt.Errorf("%w: %s holds %s, which is not a frame dump; pick a new directory",
				types.ErrUsage, dir, e.Name())
		}
	}
	return nil
}

// Path is the final output directory.
func (d *FrameDir) Path() string { return d.dir }

// FrameName is the file name used for the frame at index.
func FrameName(index int) string {
	return fmt.Sprintf("frame_%06d.png", index)
}

func (d *FrameDir) Emit(ctx context.Context, f *types.Frame) error {
	if d.done {
		return fmt.Errorf("%w: emit after close", types.ErrSink)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}

	// Named by emit order so the directory reads back as the same sequence.
	name := filepath.Join(d.tmp, FrameName(d.frames))
	if err := imgio.Save(name, fit(f.Image, d.width, d.height), imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("%w: saving frame %d: %v", types.ErrSink, f.Index, err)
	}
	d.frames++
	return nil
}

// Commit replaces dir with the staged frames.
func (d *FrameDir) Commit() error {
	if d.done {
		return nil
	}
	d.done = true
	if err := os.RemoveAll(d.dir); err != nil {
		os.RemoveAll(d.tmp)
		return fmt.Errorf("%w: replacing %s: %v", types.ErrSink, d.dir, err)
	}
	if err := os.Rename(d.tmp, d.dir); err != nil {
		os.RemoveAll(d.tmp)
		return fmt.Errorf("%w: %v", types.ErrSink, err)
	}
	return nil
}

func (d *FrameDir) Abort() error {
	if d.done {
		return nil
	}
	d.done = true
	if err := os.RemoveAll(d.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing partial frames: %v", types.ErrSink, err)
	}
	return nil
}
