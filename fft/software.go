package fft

import (
	"context"

	"github.com/hb9tf/scanner/dsp"
)

// SoftwareEngine transforms one vector per call on the calling goroutine and
// returns centered output.
type SoftwareEngine struct {
	plan *plan
}

func NewSoftware(size int) *SoftwareEngine {
	return &SoftwareEngine{plan: newPlan(size)}
}

func (e *SoftwareEngine) Name() string    { return "fft_vcc" }
func (e *SoftwareEngine) Variant() string { return Software }
func (e *SoftwareEngine) Size() int       { return len(e.plan.in) }
func (e *SoftwareEngine) BatchSize() int  { return 1 }
func (e *SoftwareEngine) Order() Order    { return Centered }
func (e *SoftwareEngine) Close() error    { return nil }

func (e *SoftwareEngine) Transform(ctx context.Context, vectors [][]complex64) error {
	for _, v := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.plan.forward(v); err != nil {
			return err
		}
		dsp.Roll(v)
	}
	return nil
}
