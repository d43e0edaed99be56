package fft

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// AcceleratorEngine transforms a whole batch of vectors per call, spreading
// the vectors over a bounded set of workers. Output is DC-first.
type AcceleratorEngine struct {
	size  int
	batch int
	plans sync.Pool
}

func NewAccelerator(size, batch int) *AcceleratorEngine {
	e := &AcceleratorEngine{size: size, batch: batch}
	e.plans.New = func() any { return newPlan(size) }
	return e
}

func (e *AcceleratorEngine) Name() string    { return "batch_fft" }
func (e *AcceleratorEngine) Variant() string { return Accelerator }
func (e *AcceleratorEngine) Size() int       { return e.size }
func (e *AcceleratorEngine) BatchSize() int  { return e.batch }
func (e *AcceleratorEngine) Order() Order    { return DCFirst }
func (e *AcceleratorEngine) Close() error    { return nil }

func (e *AcceleratorEngine) Transform(ctx context.Context, vectors [][]complex64) error {
	if len(vectors) > e.batch {
		return fmt.Errorf("got %d vectors, batch size is %d", len(vectors), e.batch)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, v := range vectors {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := e.plans.Get().(*plan)
			defer e.plans.Put(p)
			return p.forward(v)
		})
	}
	return g.Wait()
}
