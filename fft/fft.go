// Package fft provides the transform engines used by the scanner pipeline.
// All engines transform a batch of equal length vectors in place; they differ
// in where the work runs, how many vectors they want per call and the bin
// order of their output.
package fft

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/hb9tf/scanner/sdr"
)

// Order is the bin order of a transform's output.
type Order int

const (
	// Centered output has the zero frequency bin in the middle.
	Centered Order = iota
	// DCFirst output has the zero frequency bin at index 0 and needs a roll.
	DCFirst
)

func (o Order) String() string {
	if o == DCFirst {
		return "dc-first"
	}
	return "centered"
}

const (
	Software    = "software"
	Offload     = "offload"
	Accelerator = "accelerator"
)

// Engine is a forward FFT of a fixed size.
type Engine interface {
	Name() string
	Variant() string
	// Size is the length of every vector passed to Transform.
	Size() int
	// BatchSize is the number of vectors the engine wants per call.
	BatchSize() int
	Order() Order
	Transform(ctx context.Context, vectors [][]complex64) error
	Close() error
}

// New returns the engine for variant.
func New(variant string, size, batch int) (Engine, error) {
	if size < 2 {
		return nil, &sdr.ConfigurationError{Field: "nfft", Reason: fmt.Sprintf("must be at least 2, got %d", size)}
	}
	switch variant {
	case Software, "":
		return NewSoftware(size), nil
	case Offload:
		return NewOffload(size), nil
	case Accelerator:
		if batch < 1 {
			return nil, &sdr.ConfigurationError{Field: "fft_batch_size", Reason: fmt.Sprintf("must be positive, got %d", batch)}
		}
		return NewAccelerator(size, batch), nil
	}
	return nil, &sdr.ConfigurationError{Field: "fft", Reason: fmt.Sprintf("unknown transform %q", variant)}
}

// plan wraps a gonum transform together with its scratch buffers. It is not
// safe for concurrent use.
type plan struct {
	fft *fourier.CmplxFFT
	in  []complex128
	out []complex128
}

func newPlan(size int) *plan {
	return &plan{
		fft: fourier.NewCmplxFFT(size),
		in:  make([]complex128, size),
		out: make([]complex128, size),
	}
}

// forward transforms v in place, leaving DC at index 0.
func (p *plan) forward(v []complex64) error {
	if len(v) != len(p.in) {
		return fmt.Errorf("vector has %d samples, want %d", len(v), len(p.in))
	}
	for i, x := range v {
		p.in[i] = complex128(x)
	}
	p.out = p.fft.Coefficients(p.out, p.in)
	for i, x := range p.out {
		v[i] = complex64(x)
	}
	return nil
}
