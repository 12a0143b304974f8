package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/vidproc/internal/transform"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// fakeSource serves frames from memory and can fail at a chosen index.
type fakeSource struct {
	mu     sync.Mutex
	frames []*types.Frame
	next   int
	failAt int
	err    error
	closed int
}

func newFakeSource(n int) *fakeSource {
	s := &fakeSource{failAt: -1}
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		c := color.RGBA{uint8(i * 7), uint8(i * 13), uint8(i * 29), 255}
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
		}
		s.frames = append(s.frames, &types.Frame{Index: i, Image: img})
	}
	return s
}

func (s *fakeSource) Info() types.VideoInfo {
	return types.VideoInfo{Path: "memory", Width: 4, Height: 4, FPS: 25, TotalFrames: len(s.frames)}
}

func (s *fakeSource) Next(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next == s.failAt {
		return nil, s.err
	}
	if s.closed > 0 || s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// fakeSink records emitted indices and fails on demand.
type fakeSink struct {
	indices   []int
	failAt    int
	err       error
	onEmit    func(n int)
	commitErr error
	committed bool
	aborted   bool
}

func newFakeSink() *fakeSink { return &fakeSink{failAt: -1} }

func (s *fakeSink) Emit(_ context.Context, f *types.Frame) error {
	if len(s.indices) == s.failAt {
		return s.err
	}
	s.indices = append(s.indices, f.Index)
	if s.onEmit != nil {
		s.onEmit(len(s.indices))
	}
	return nil
}

func (s *fakeSink) Commit() error { s.committed = true; return s.commitErr }
func (s *fakeSink) Abort() error  { s.aborted = true; return nil }

func monochrome(t *testing.T) transform.Transform {
	t.Helper()
	tr, err := transform.New(types.ModeMonochrome, "")
	require.NoError(t, err)
	return tr
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestRun_Sequential(t *testing.T) {
	src, snk := newFakeSource(12), newFakeSink()
	var seen int
	d := New(Config{OnFrame: func(*types.Frame) { seen++ }})

	res, err := d.Run(context.Background(), src, monochrome(t), snk)
	require.NoError(t, err)

	assert.Equal(t, 12, res.Frames)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, StateCompleted, d.State())
	assert.Equal(t, sequence(12), snk.indices)
	assert.Equal(t, 12, seen)
	assert.True(t, snk.committed)
	assert.False(t, snk.aborted)
	assert.GreaterOrEqual(t, src.closed, 1)
}

func TestRun_PoolPreservesOrder(t *testing.T) {
	for _, workers := range []int{2, 4, 8} {
		src, snk := newFakeSource(64), newFakeSink()
		d := New(Config{Workers: workers})

		res, err := d.Run(context.Background(), src, monochrome(t), snk)
		require.NoError(t, err)
		assert.Equal(t, 64, res.Frames)
		assert.Equal(t, sequence(64), snk.indices, "workers=%d", workers)
		assert.True(t, snk.committed)
	}
}

// gatedTransform holds frame 0 until release is closed and tracks how many
// frames are between Apply and the sink at once.
type gatedTransform struct {
	release  chan struct{}
	started  *atomic.Int64
	emitted  *atomic.Int64
	inFlight *atomic.Int64
}

func (g gatedTransform) Apply(f *types.Frame) (*types.Frame, error) {
	n := g.started.Inc() - g.emitted.Load()
	for {
		cur := g.inFlight.Load()
		if n <= cur || g.inFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.Index == 0 {
		<-g.release
	}
	return f, nil
}
func (g gatedTransform) Stateful() bool { return false }
func (g gatedTransform) Close() error   { return nil }
func (g gatedTransform) String() string { return "gated" }

func TestRun_PoolBoundsReorderBuffer(t *testing.T) {
	const workers = 3
	tr := gatedTransform{
		release:  make(chan struct{}),
		started:  atomic.NewInt64(0),
		emitted:  atomic.NewInt64(0),
		inFlight: atomic.NewInt64(0),
	}
	src, snk := newFakeSource(200), newFakeSink()
	snk.onEmit = func(int) { tr.emitted.Inc() }

	go func() {
		// Long enough for an unbounded reader to pull every frame.
		time.Sleep(200 * time.Millisecond)
		close(tr.release)
	}()

	res, err := New(Config{Workers: workers}).Run(context.Background(), src, tr, snk)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Frames)
	assert.Equal(t, sequence(200), snk.indices)
	assert.LessOrEqual(t, tr.inFlight.Load(), int64(inFlightPerWorker*workers))
}

func TestRun_EmptySource(t *testing.T) {
	src, snk := newFakeSource(0), newFakeSink()
	res, err := New(Config{}).Run(context.Background(), src, monochrome(t), snk)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Frames)
	assert.True(t, snk.committed)
}

func TestRun_SourceError(t *testing.T) {
	for _, workers := range []int{1, 4} {
		src, snk := newFakeSource(10), newFakeSink()
		src.failAt, src.err = 5, errors.New("pipe broke")
		d := New(Config{Workers: workers})

		res, err := d.Run(context.Background(), src, monochrome(t), snk)
		assert.ErrorIs(t, err, types.ErrSource)
		assert.Equal(t, StateFailed, res.State)
		assert.True(t, snk.aborted)
		assert.False(t, snk.committed)
		assert.GreaterOrEqual(t, src.closed, 1)
	}
}

func TestRun_InvalidFrameIsKept(t *testing.T) {
	src, snk := newFakeSource(3), newFakeSink()
	src.failAt, src.err = 1, types.ErrInvalidFrame

	_, err := New(Config{}).Run(context.Background(), src, monochrome(t), snk)
	assert.ErrorIs(t, err, types.ErrInvalidFrame)
	assert.False(t, errors.Is(err, types.ErrSource))
}

func TestRun_SinkError(t *testing.T) {
	src, snk := newFakeSource(5), newFakeSink()
	snk.failAt, snk.err = 2, errors.New("disk full")

	res, err := New(Config{}).Run(context.Background(), src, monochrome(t), snk)
	assert.ErrorIs(t, err, types.ErrSink)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 2, res.Frames)
	assert.True(t, snk.aborted)
}

func TestRun_CommitError(t *testing.T) {
	src, snk := newFakeSource(2), newFakeSink()
	snk.commitErr = errors.New("rename failed")

	res, err := New(Config{}).Run(context.Background(), src, monochrome(t), snk)
	assert.ErrorIs(t, err, types.ErrSink)
	assert.Equal(t, StateFailed, res.State)
}

func TestRun_SinkCancels(t *testing.T) {
	for _, workers := range []int{1, 4} {
		src, snk := newFakeSource(20), newFakeSink()
		snk.failAt, snk.err = 3, types.ErrCancelled

		res, err := New(Config{Workers: workers}).Run(context.Background(), src, monochrome(t), snk)
		assert.ErrorIs(t, err, types.ErrCancelled)
		assert.Equal(t, StateCancelled, res.State)
		assert.Equal(t, 3, res.Frames)
		assert.Equal(t, sequence(3), snk.indices)
		assert.True(t, snk.aborted)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	tests := []struct {
		name        string
		interactive bool
		workers     int
		want        State
	}{
		{"headless", false, 1, StateFailed},
		{"headless pool", false, 4, StateFailed},
		{"interactive", true, 1, StateCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			src, snk := newFakeSource(50), newFakeSink()
			snk.onEmit = func(n int) {
				if n == 5 {
					cancel()
				}
			}

			res, err := New(Config{Interactive: tt.interactive, Workers: tt.workers}).Run(ctx, src, monochrome(t), snk)
			require.Error(t, err)
			assert.Equal(t, tt.want, res.State)
			assert.Equal(t, 5, res.Frames)
			assert.True(t, snk.aborted)
			if tt.interactive {
				assert.ErrorIs(t, err, types.ErrCancelled)
			} else {
				assert.ErrorIs(t, err, context.Canceled)
			}
		})
	}
}

func TestRun_OnlyOnce(t *testing.T) {
	d := New(Config{})
	assert.Equal(t, StateIdle, d.State())

	_, err := d.Run(context.Background(), newFakeSource(1), monochrome(t), newFakeSink())
	require.NoError(t, err)

	snk := newFakeSink()
	res, err := d.Run(context.Background(), newFakeSource(1), monochrome(t), snk)
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.Equal(t, StateCompleted, res.State)
	assert.Empty(t, snk.indices)
}

func TestRun_TransformError(t *testing.T) {
	src, snk := newFakeSource(3), newFakeSink()
	src.frames[1] = &types.Frame{Index: 1}

	res, err := New(Config{}).Run(context.Background(), src, monochrome(t), snk)
	assert.ErrorIs(t, err, types.ErrInvalidFrame)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, []int{0}, snk.indices)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
}
