package pipeline

import (
	"context"
	"fmt"

	"github.com/hb9tf/scanner/dsp"
	"github.com/hb9tf/scanner/fft"
)

type windowStage struct {
	window  []float64
	framing Framing
}

func (s *windowStage) Name() string { return "window" }
func (s *windowStage) In() Framing  { return s.framing }
func (s *windowStage) Out() Framing { return s.framing }

func (s *windowStage) Process(_ context.Context, b *Batch, emit func(*Batch) error) error {
	for _, frame := range b.Frames {
		dsp.ApplyWindow(frame, s.window)
	}
	return emit(b)
}

type transformStage struct {
	engine  fft.Engine
	framing Framing
}

func (s *transformStage) Name() string { return "transform/" + s.engine.Variant() }
func (s *transformStage) In() Framing  { return s.framing }
func (s *transformStage) Out() Framing { return s.framing }

func (s *transformStage) Process(ctx context.Context, b *Batch, emit func(*Batch) error) error {
	n, size := len(b.Frames), s.engine.Size()
	for _, frame := range b.Frames {
		if len(frame) != size {
			return fmt.Errorf("%s: frame has %d samples, want %d", s.Name(), len(frame), size)
		}
	}
	if err := s.engine.Transform(ctx, b.Frames); err != nil {
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	if len(b.Frames) != n {
		return fmt.Errorf("%s: transform returned %d vectors, want %d", s.Name(), len(b.Frames), n)
	}
	for _, frame := range b.Frames {
		if len(frame) != size {
			return fmt.Errorf("%s: transform changed vector length to %d", s.Name(), len(frame))
		}
	}
	return emit(b)
}

// rollStage moves DC-first transform output to centered order.
type rollStage struct {
	framing Framing
}

func (s *rollStage) Name() string { return "roll" }
func (s *rollStage) In() Framing  { return s.framing }
func (s *rollStage) Out() Framing { return s.framing }

func (s *rollStage) Process(_ context.Context, b *Batch, emit func(*Batch) error) error {
	for _, frame := range b.Frames {
		dsp.Roll(frame)
	}
	return emit(b)
}

// unbatchStage splits a batch into single frame batches, keeping the tag and
// the pre-tune annotations consistent on every piece.
type unbatchStage struct {
	framing Framing
}

func (s *unbatchStage) Name() string { return "unbatch" }
func (s *unbatchStage) In() Framing  { return s.framing }
func (s *unbatchStage) Out() Framing { return 1 }

func (s *unbatchStage) Process(_ context.Context, b *Batch, emit func(*Batch) error) error {
	per := 0
	if len(b.Frames) > 0 {
		per = len(b.IQ) / len(b.Frames)
	}
	for i, frame := range b.Frames {
		piece := &Batch{
			Tag:    b.Tag,
			Frames: [][]complex64{frame},
		}
		piece.Frame = b.Frame + i
		if i < b.Settle {
			piece.Settle = 1
		}
		piece.DwellEnd = b.DwellEnd && i == len(b.Frames)-1
		if per > 0 {
			piece.IQ = b.IQ[i*per : (i+1)*per]
		}
		if err := emit(piece); err != nil {
			return err
		}
	}
	return nil
}

type powerStage struct {
	scale   float64
	floor   float64
	ceil    float64
	framing Framing
}

func (s *powerStage) Name() string { return "power" }
func (s *powerStage) In() Framing  { return s.framing }
func (s *powerStage) Out() Framing { return s.framing }

func (s *powerStage) Process(_ context.Context, b *Batch, emit func(*Batch) error) error {
	b.Power = make([][]float64, len(b.Frames))
	for i, frame := range b.Frames {
		b.Power[i] = dsp.Power(nil, frame, s.scale, s.floor, s.ceil)
	}
	b.Frames = nil
	return emit(b)
}
