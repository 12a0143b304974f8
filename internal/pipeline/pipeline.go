// Package pipeline drives frames from a Source through a Transform into a Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andresmejia3/vidproc/internal/metrics"
	"github.com/andresmejia3/vidproc/internal/sink"
	"github.com/andresmejia3/vidproc/internal/source"
	"github.com/andresmejia3/vidproc/internal/transform"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/andresmejia3/vidproc/internal/worker"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// ErrAlreadyRun is returned when Run is called on a Driver that has left Idle.
var ErrAlreadyRun = errors.New("pipeline already run")

// State is the lifecycle position of a Driver.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Config tunes a Driver.
type Config struct {
	// Workers > 1 transforms frames concurrently when the transform allows it.
	Workers int
	// Interactive treats context cancellation as a user quit rather than a failure.
	Interactive bool
	// OnFrame is called after every frame the sink accepted.
	OnFrame func(f *types.Frame)
}

// Result summarises a finished run.
type Result struct {
	Frames  int
	State   State
	Elapsed time.Duration
}

// Driver runs one pipeline. It is not reusable.
type Driver struct {
	cfg    Config
	state  *atomic.Int32
	frames *atomic.Int64
}

func New(cfg Config) *Driver {
	return &Driver{
		cfg:    cfg,
		state:  atomic.NewInt32(int32(StateIdle)),
		frames: atomic.NewInt64(0),
	}
}

// State may be read from any goroutine.
func (d *Driver) State() State { return State(d.state.Load()) }

// Frames is the number of frames emitted so far.
func (d *Driver) Frames() int { return int(d.frames.Load()) }

// Run pulls every frame from src, transforms it and hands it to snk in order.
// The Driver owns src and snk: src is always closed, and snk is committed on
// success or aborted otherwise.
func (d *Driver) Run(ctx context.Context, src source.Source, tr transform.Transform, snk sink.Sink) (Result, error) {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Result{State: d.State(), Frames: d.Frames()}, ErrAlreadyRun
	}
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	start := time.Now()
	log := logrus.WithFields(logrus.Fields{
		"function":  "Run",
		"transform": tr.String(),
		"input":     src.Info().Path,
	})

	var err error
	if d.cfg.Workers > 1 && !tr.Stateful() {
		log.WithField("workers", d.cfg.Workers).Debug("running with worker pool")
		err = d.runPool(ctx, src, tr, snk)
	} else {
		err = d.runSequential(ctx, src, tr, snk)
	}
	if cerr := src.Close(); cerr != nil {
		log.WithError(cerr).Warn("closing source")
	}

	final, err := d.classify(err)
	if final == StateCompleted {
		if cerr := snk.Commit(); cerr != nil {
			final, err = StateFailed, wrapSink(cerr)
		}
	} else {
		if aerr := snk.Abort(); aerr != nil {
			log.WithError(aerr).Warn("aborting sink")
		}
	}
	d.state.Store(int32(final))

	res := Result{Frames: d.Frames(), State: final, Elapsed: time.Since(start)}
	metrics.RunsTotal.WithLabelValues(final.String()).Inc()
	metrics.RunDuration.Observe(res.Elapsed.Seconds())

	log.WithFields(logrus.Fields{
		"frames":  res.Frames,
		"state":   final.String(),
		"elapsed": res.Elapsed,
	}).Debug("run finished")
	return res, err
}

// classify maps the outcome of a run to its terminal state.
func (d *Driver) classify(err error) (State, error) {
	switch {
	case err == nil:
		return StateCompleted, nil
	case errors.Is(err, types.ErrCancelled):
		return StateCancelled, err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if d.cfg.Interactive {
			return StateCancelled, fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}
		return StateFailed, err
	default:
		return StateFailed, err
	}
}

func (d *Driver) runSequential(ctx context.Context, src source.Source, tr transform.Transform, snk sink.Sink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrapSource(err)
		}

		start := time.Now()
		out, err := tr.Apply(f)
		metrics.FrameTransformDuration.WithLabelValues(tr.String()).Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("transform frame %d: %w", f.Index, err)
		}

		if err := d.emit(ctx, snk, tr, out); err != nil {
			return err
		}
	}
}

// inFlightPerWorker bounds how many frames may be decoded but not yet emitted,
// per worker. A slow frame stalls decoding instead of growing the reorder buffer.
const inFlightPerWorker = 2

// runPool overlaps decoding, transforming and emitting. One goroutine decodes,
// the pool transforms, and this goroutine restores index order before emitting.
func (d *Driver) runPool(ctx context.Context, src source.Source, tr transform.Transform, snk sink.Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	readDone := make(chan struct{})
	defer func() {
		cancel()
		// Unblocks a decoder read that does not watch ctx.
		src.Close()
		<-readDone
	}()

	tasks := make(chan types.FrameTask, d.cfg.Workers)
	readErr := make(chan error, 1)
	// One token per frame between decode and emit.
	slots := make(chan struct{}, inFlightPerWorker*d.cfg.Workers)
	go func() {
		defer close(readDone)
		defer close(tasks)
		for seq := 0; ; seq++ {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			f, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				readErr <- wrapSource(err)
				return
			}
			select {
			case tasks <- types.FrameTask{Index: seq, Frame: f}:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := worker.NewPool(d.cfg.Workers, tr).Run(ctx, tasks)
	pending := make(map[int]*types.Frame)
	next := 0
	for {
		select {
		case err := <-readErr:
			return err
		case res, ok := <-results:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if len(pending) > 0 {
					return fmt.Errorf("%d frames transformed but never emitted after frame %d", len(pending), next)
				}
				return nil
			}
			if res.Err != nil {
				return res.Err
			}
			pending[res.Index] = res.Frame
			for {
				f, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := d.emit(ctx, snk, tr, f); err != nil {
					return err
				}
				<-slots
				next++
			}
		}
	}
}

func (d *Driver) emit(ctx context.Context, snk sink.Sink, tr transform.Transform, f *types.Frame) error {
	if err := snk.Emit(ctx, f); err != nil {
		return wrapSink(err)
	}
	d.frames.Inc()
	metrics.FramesProcessedTotal.WithLabelValues(tr.String()).Inc()
	if d.cfg.OnFrame != nil {
		d.cfg.OnFrame(f)
	}
	return nil
}

func wrapSource(err error) error {
	switch {
	case errors.Is(err, types.ErrSource),
		errors.Is(err, types.ErrInvalidFrame),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", types.ErrSource, err)
	}
}

func wrapSink(err error) error {
	switch {
	case errors.Is(err, types.ErrSink),
		errors.Is(err, types.ErrCancelled),
		errors.Is(err, types.ErrInvalidFrame),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", types.ErrSink, err)
	}
}
