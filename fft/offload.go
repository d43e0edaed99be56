package fft

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

var errClosed = errors.New("transform engine closed")

type job struct {
	vectors [][]complex64
	done    chan error
}

// OffloadEngine runs every transform on a dedicated OS thread, one vector per
// call, and returns DC-first output.
type OffloadEngine struct {
	size int
	jobs chan job

	closeOnce sync.Once
	stopped   chan struct{}
}

func NewOffload(size int) *OffloadEngine {
	e := &OffloadEngine{
		size:    size,
		jobs:    make(chan job),
		stopped: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *OffloadEngine) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p := newPlan(e.size)
	for {
		select {
		case <-e.stopped:
			return
		case j := <-e.jobs:
			var err error
			for _, v := range j.vectors {
				if err = p.forward(v); err != nil {
					break
				}
			}
			j.done <- err
		}
	}
}

func (e *OffloadEngine) Name() string    { return "offload_fft" }
func (e *OffloadEngine) Variant() string { return Offload }
func (e *OffloadEngine) Size() int       { return e.size }
func (e *OffloadEngine) BatchSize() int  { return 1 }
func (e *OffloadEngine) Order() Order    { return DCFirst }

func (e *OffloadEngine) Transform(ctx context.Context, vectors [][]complex64) error {
	j := job{vectors: vectors, done: make(chan error, 1)}
	select {
	case e.jobs <- j:
	case <-e.stopped:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// The worker owns the vectors until it answers.
	select {
	case err := <-j.done:
		return err
	case <-e.stopped:
		return errClosed
	}
}

func (e *OffloadEngine) Close() error {
	e.closeOnce.Do(func() { close(e.stopped) })
	return nil
}
