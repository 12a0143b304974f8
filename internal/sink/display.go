package sink

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Surface is somewhere frames can be shown and keys read from.
type Surface interface {
	Show(img image.Image) error
	// WaitKey waits up to delayMs for a key press and returns its code, or -1.
	WaitKey(delayMs int) int
	IsOpen() bool
	Close() error
}

const (
	keyEsc   = 27
	keyQuit  = 'q'
	keyPause = 'p'
	keySpace = ' '
	keyBack  = 'b'
	keyNext  = 'n'

	// DefaultHistory is how many shown frames can be stepped back through.
	DefaultHistory = 120

	pausedPollMs = 30
)

// DisplayOptions configures a Display sink.
type DisplayOptions struct {
	FPS     float64
	Width   int
	Height  int
	History int
}

// Display shows frames at the source cadence and reacts to the keyboard:
// q or Esc quits, p or space pauses, and while paused b and n step through
// recently shown frames.
type Display struct {
	surface Surface
	opts    DisplayOptions
	delayMs int

	paused  *atomic.Bool
	history []*image.RGBA
	cursor  int
	done    bool
}

func NewDisplay(surface Surface, opts DisplayOptions) *Display {
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	delay := 1
	if opts.FPS > 0 {
		delay = int(math.Max(1, math.Round(1000/opts.FPS)))
	}
	return &Display{
		surface: surface,
		opts:    opts,
		delayMs: delay,
		paused:  atomic.NewBool(false),
	}
}

// Paused may be read from any goroutine.
func (d *Display) Paused() bool { return d.paused.Load() }

func (d *Display) Emit(ctx context.Context, f *types.Frame) error {
	if d.done {
		return fmt.Errorf("%w: emit after close", types.ErrSink)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}

	d.history = append(d.history, fit(f.Image, d.opts.Width, d.opts.Height))
	if len(d.history) > d.opts.History {
		d.history[0] = nil
		d.history = d.history[1:]
	}
	d.cursor = len(d.history) - 1
	if err := d.show(); err != nil {
		return err
	}
	return d.poll(ctx)
}

func (d *Display) show() error {
	if err := d.surface.Show(d.history[d.cursor]); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSink, err)
	}
	return nil
}

// poll handles key presses until the next frame is wanted.
func (d *Display) poll(ctx context.Context) error {
	for {
		delay := d.delayMs
		if d.Paused() {
			delay = pausedPollMs
		}
		key := d.surface.WaitKey(delay)
		if !d.surface.IsOpen() {
			return fmt.Errorf("%w: window closed", types.ErrCancelled)
		}

		switch key {
		case keyQuit, keyEsc:
			return fmt.Errorf("%w: quit requested", types.ErrCancelled)
		case keyPause, keySpace:
			now := !d.paused.Toggle()
			logrus.WithField("paused", now).Debug("display pause toggled")
			if !now && d.cursor != len(d.history)-1 {
				d.cursor = len(d.history) - 1
				if err := d.show(); err != nil {
					return err
				}
			}
		case keyBack:
			if d.Paused() && d.cursor > 0 {
				d.cursor--
				if err := d.show(); err != nil {
					return err
				}
			}
		case keyNext:
			if d.Paused() {
				if d.cursor < len(d.history)-1 {
					d.cursor++
					if err := d.show(); err != nil {
						return err
					}
				} else {
					// Step to a frame not decoded yet.
					return nil
				}
			}
		}

		if !d.Paused() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (d *Display) Commit() error { return d.close() }

func (d *Display) Abort() error { return d.close() }

func (d *Display) close() error {
	if d.done {
		return nil
	}
	d.done = true
	d.history = nil
	if err := d.surface.Close(); err != nil {
		return fmt.Errorf("%w: closing window: %v", types.ErrSink, err)
	}
	return nil
}
