package worker

import (
	"context"
	"errors"
	"image"
	"sort"
	"testing"
	"time"

	"github.com/andresmejia3/vidproc/internal/transform"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTransform lets tests control what a worker sees.
type stubTransform struct {
	apply func(*types.Frame) (*types.Frame, error)
}

func (s stubTransform) Apply(f *types.Frame) (*types.Frame, error) { return s.apply(f) }
func (s stubTransform) Stateful() bool                             { return false }
func (s stubTransform) Close() error                               { return nil }
func (s stubTransform) String() string                             { return "stub" }

func frame(i int) *types.Frame {
	return &types.Frame{Index: i, Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}
}

func TestProcessFrame(t *testing.T) {
	tr, err := transform.New(types.ModeMonochrome, "")
	require.NoError(t, err)

	w := &Worker{ID: 1, Transform: tr}
	res := w.ProcessFrame(types.FrameTask{Index: 4, Frame: frame(4)})
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Index)
	assert.Equal(t, 4, res.Frame.Index)
}

func TestProcessFrame_Error(t *testing.T) {
	w := &Worker{ID: 1, Transform: stubTransform{apply: func(*types.Frame) (*types.Frame, error) {
		return nil, types.ErrInvalidFrame
	}}}

	res := w.ProcessFrame(types.FrameTask{Index: 2, Frame: frame(2)})
	assert.ErrorIs(t, res.Err, types.ErrInvalidFrame)
	assert.Nil(t, res.Frame)
}

func TestProcessFrame_Panic(t *testing.T) {
	w := &Worker{ID: 3, Transform: stubTransform{apply: func(*types.Frame) (*types.Frame, error) {
		panic("boom")
	}}}

	res := w.ProcessFrame(types.FrameTask{Index: 9, Frame: frame(9)})
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "worker 3 crashed on frame 9")
}

func TestNewPool_MinimumSize(t *testing.T) {
	assert.Equal(t, 1, NewPool(0, stubTransform{}).Size)
	assert.Equal(t, 6, NewPool(6, stubTransform{}).Size)
}

func TestRun_ProcessesEveryTask(t *testing.T) {
	tr, err := transform.New(types.ModeSegment, types.SegmenterOtsu)
	require.NoError(t, err)

	tasks := make(chan types.FrameTask)
	results := NewPool(4, tr).Run(context.Background(), tasks)

	go func() {
		defer close(tasks)
		for i := 0; i < 50; i++ {
			tasks <- types.FrameTask{Index: i, Frame: frame(i)}
		}
	}()

	var got []int
	for res := range results {
		require.NoError(t, res.Err)
		got = append(got, res.Index)
	}
	sort.Ints(got)
	require.Len(t, got, 50)
	for i, idx := range got {
		assert.Equal(t, i, idx)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tasks := make(chan types.FrameTask, 1)
	slow := stubTransform{apply: func(f *types.Frame) (*types.Frame, error) { return f, nil }}

	results := NewPool(2, slow).Run(ctx, tasks)
	tasks <- types.FrameTask{Index: 0, Frame: frame(0)}
	cancel()

	done := make(chan struct{})
	go func() {
		// Nobody drains results after cancel; workers must still exit once tasks closes.
		close(tasks)
		for range results {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker pool did not shut down after cancel")
	}
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
}
