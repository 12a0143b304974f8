// Package worker runs a stateless transform over a bounded pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/vidproc/internal/metrics"
	"github.com/andresmejia3/vidproc/internal/transform"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/sirupsen/logrus"
)

// Worker applies one Transform to the frames it is handed.
type Worker struct {
	ID        int
	Transform transform.Transform
}

// ProcessFrame transforms a single task. A panic inside the transform is
// reported as an error instead of taking the process down.
func (w *Worker) ProcessFrame(task types.FrameTask) (res types.FrameResult) {
	res.Index = task.Index
	defer func() {
		if r := recover(); r != nil {
			res.Frame = nil
			res.Err = fmt.Errorf("worker %d crashed on frame %d: %v", w.ID, task.Index, r)
		}
	}()

	start := time.Now()
	out, err := w.Transform.Apply(task.Frame)
	metrics.FrameTransformDuration.WithLabelValues(w.Transform.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		res.Err = fmt.Errorf("transform frame %d: %w", task.Index, err)
		return res
	}
	res.Frame = out
	return res
}

// Pool runs Size workers sharing one stateless Transform.
type Pool struct {
	Size      int
	Transform transform.Transform
}

// NewPool returns a pool of at least one worker.
func NewPool(size int, tr transform.Transform) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{Size: size, Transform: tr}
}

// Run starts the workers reading from tasks. The returned channel is closed once
// tasks is drained (or ctx is done) and every worker has returned.
// Results arrive in completion order; callers restore stream order by Index.
func (p *Pool) Run(ctx context.Context, tasks <-chan types.FrameTask) <-chan types.FrameResult {
	results := make(chan types.FrameResult, p.Size*2)

	var wg sync.WaitGroup
	for i := 0; i < p.Size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w := &Worker{ID: id, Transform: p.Transform}
			for task := range tasks {
				select {
				case results <- w.ProcessFrame(task):
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	logrus.WithFields(logrus.Fields{
		"function":  "Pool.Run",
		"workers":   p.Size,
		"transform": p.Transform.String(),
	}).Debug("worker pool started")

	return results
}
