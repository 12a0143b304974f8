package sink

import (
	"context"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/andresmejia3/vidproc/internal/utils"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(index, w, h int, c color.RGBA) *types.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return &types.Frame{Index: index, Image: img}
}

var palette = []color.RGBA{
	{255, 0, 0, 255},
	{0, 255, 0, 255},
	{0, 0, 255, 255},
}

// recorder is a Sink that remembers what happened to it.
type recorder struct {
	frames    []int
	committed bool
	aborted   bool
	emitErr   error
	commitErr error
}

func (r *recorder) Emit(_ context.Context, f *types.Frame) error {
	if r.emitErr != nil {
		return r.emitErr
	}
	r.frames = append(r.frames, f.Index)
	return nil
}
func (r *recorder) Commit() error { r.committed = true; return r.commitErr }
func (r *recorder) Abort() error  { r.aborted = true; return nil }

func TestTee(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	tee := Tee{a, b}

	for i := 0; i < 3; i++ {
		require.NoError(t, tee.Emit(context.Background(), solidFrame(i, 2, 2, palette[i])))
	}
	require.NoError(t, tee.Commit())

	assert.Equal(t, []int{0, 1, 2}, a.frames)
	assert.Equal(t, []int{0, 1, 2}, b.frames)
	assert.True(t, a.committed)
	assert.True(t, b.committed)
}

func TestTee_CommitFailureAbortsRest(t *testing.T) {
	a, b := &recorder{commitErr: types.ErrSink}, &recorder{}
	err := Tee{a, b}.Commit()

	assert.ErrorIs(t, err, types.ErrSink)
	assert.False(t, b.committed)
	assert.True(t, b.aborted)
}

func TestTee_EmitStopsAtFirstError(t *testing.T) {
	a, b := &recorder{emitErr: types.ErrCancelled}, &recorder{}
	err := Tee{a, b}.Emit(context.Background(), solidFrame(0, 2, 2, palette[0]))

	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.Empty(t, b.frames)
}

func TestFrameDir_Commit(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frames")
	d, err := NewFrameDir(out, 0, 0)
	require.NoError(t, err)

	for i, c := range palette {
		require.NoError(t, d.Emit(context.Background(), solidFrame(i, 4, 3, c)))
	}
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err), "output must not appear before commit")

	require.NoError(t, d.Commit())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, FrameName(0), entries[0].Name())
	assert.Equal(t, FrameName(2), entries[2].Name())

	img, err := imgio.Open(filepath.Join(out, FrameName(1)))
	require.NoError(t, err)
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0, 0xffff, 0}, []uint32{r, g, b})

	_, err = os.Stat(out + ".partial")
	assert.True(t, os.IsNotExist(err))
}

func TestFrameDir_CommitReplacesEarlierDump(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frames")
	require.NoError(t, os.MkdirAll(out, 0o755))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(out, FrameName(i)), []byte("x"), 0o644))
	}

	d, err := NewFrameDir(out, 0, 0)
	require.NoError(t, err)
	require.NoError(t, d.Emit(context.Background(), solidFrame(0, 2, 2, palette[0])))
	require.NoError(t, d.Commit())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FrameName(0), entries[0].Name())
}

func TestNewFrameDir_RefusesForeignContent(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, out string)
	}{
		{"other files", func(t *testing.T, out string) {
			require.NoError(t, os.MkdirAll(out, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(out, FrameName(0)), []byte("x"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(out, "notes.txt"), []byte("keep me"), 0o644))
		}},
		{"input images", func(t *testing.T, out string) {
			require.NoError(t, os.MkdirAll(out, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(out, "img_00.png"), []byte("x"), 0o644))
		}},
		{"subdirectory", func(t *testing.T, out string) {
			require.NoError(t, os.MkdirAll(filepath.Join(out, "seq"), 0o755))
		}},
		{"regular file", func(t *testing.T, out string) {
			require.NoError(t, os.WriteFile(out, []byte("x"), 0o644))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "frames")
			tt.setup(t, out)

			_, err := NewFrameDir(out, 0, 0)
			assert.ErrorIs(t, err, types.ErrUsage)

			_, err = os.Stat(out)
			assert.NoError(t, err, "existing output must be left alone")
			_, err = os.Stat(out + ".partial")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestNewFrameDir_EmptyExistingDir(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frames")
	require.NoError(t, os.MkdirAll(out, 0o755))

	d, err := NewFrameDir(out, 0, 0)
	require.NoError(t, err)
	require.NoError(t, d.Emit(context.Background(), solidFrame(0, 2, 2, palette[0])))
	require.NoError(t, d.Commit())

	_, err = os.Stat(filepath.Join(out, FrameName(0)))
	assert.NoError(t, err)
}

func TestFrameDir_Abort(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frames")
	d, err := NewFrameDir(out, 0, 0)
	require.NoError(t, err)
	require.NoError(t, d.Emit(context.Background(), solidFrame(0, 2, 2, palette[0])))

	require.NoError(t, d.Abort())
	require.NoError(t, d.Commit(), "commit after abort is a no-op")

	for _, p := range []string{out, out + ".partial"} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "%s should not exist", p)
	}
}

func TestFrameDir_Resize(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frames")
	d, err := NewFrameDir(out, 8, 6)
	require.NoError(t, err)
	require.NoError(t, d.Emit(context.Background(), solidFrame(0, 4, 3, palette[2])))
	require.NoError(t, d.Commit())

	img, err := imgio.Open(filepath.Join(out, FrameName(0)))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
}

func TestFrameDir_RejectsInvalidFrame(t *testing.T) {
	d, err := NewFrameDir(filepath.Join(t.TempDir(), "frames"), 0, 0)
	require.NoError(t, err)
	defer d.Abort()

	err = d.Emit(context.Background(), &types.Frame{})
	assert.ErrorIs(t, err, types.ErrInvalidFrame)
}

func TestNewVideoFile_Validation(t *testing.T) {
	_, err := NewVideoFile(filepath.Join(t.TempDir(), "missing", "out.mp4"), VideoFileOptions{FPS: 25})
	assert.ErrorIs(t, err, types.ErrSink)

	_, err = NewVideoFile(filepath.Join(t.TempDir(), "out.mp4"), VideoFileOptions{})
	assert.ErrorIs(t, err, types.ErrUsage)
}

func TestVideoFile_CommitWithoutFrames(t *testing.T) {
	v, err := NewVideoFile(filepath.Join(t.TempDir(), "out.mp4"), VideoFileOptions{FPS: 25})
	require.NoError(t, err)
	assert.ErrorIs(t, v.Commit(), types.ErrSink)
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping ffmpeg test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
}

func TestVideoFile_Encode(t *testing.T) {
	requireFFmpeg(t)

	out := filepath.Join(t.TempDir(), "clip.mkv")
	v, err := NewVideoFile(out, VideoFileOptions{Tools: utils.DefaultTools, Codec: "ffv1", FPS: 10})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, v.Emit(context.Background(), solidFrame(i, 16, 8, palette[i%3])))
	}
	require.NoError(t, v.Commit())

	assert.Equal(t, 6, utils.DefaultTools.CountFrames(context.Background(), out))
	_, err = os.Stat(filepath.Join(filepath.Dir(out), ".clip.partial.mkv"))
	assert.True(t, os.IsNotExist(err))
}

func TestVideoFile_AbortLeavesNothing(t *testing.T) {
	requireFFmpeg(t)

	dir := t.TempDir()
	out := filepath.Join(dir, "clip.mkv")
	v, err := NewVideoFile(out, VideoFileOptions{Tools: utils.DefaultTools, Codec: "ffv1", FPS: 10})
	require.NoError(t, err)
	require.NoError(t, v.Emit(context.Background(), solidFrame(0, 16, 8, palette[0])))

	require.NoError(t, v.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVideoFile_SizeMismatch(t *testing.T) {
	requireFFmpeg(t)

	v, err := NewVideoFile(filepath.Join(t.TempDir(), "clip.mkv"), VideoFileOptions{Tools: utils.DefaultTools, Codec: "ffv1", FPS: 10})
	require.NoError(t, err)
	defer v.Abort()

	require.NoError(t, v.Emit(context.Background(), solidFrame(0, 16, 8, palette[0])))
	err = v.Emit(context.Background(), solidFrame(1, 8, 8, palette[1]))
	assert.ErrorIs(t, err, types.ErrInvalidFrame)
}
