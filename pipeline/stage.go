// Package pipeline assembles and runs the scanner's stage graph: samples
// flow from the source through correction, windowing, the transform and
// power conversion into the retune stage, which closes dwells and steers the
// source.
package pipeline

import (
	"context"
	"fmt"

	"github.com/hb9tf/scanner/sdr"
)

// Framing is the number of frames a stage expects in, or produces per,
// batch.
type Framing int

const (
	// AnyFraming accepts batches of any size.
	AnyFraming Framing = 0
	// DwellFraming carries one dwell result instead of frames.
	DwellFraming Framing = -1
)

func (f Framing) String() string {
	switch {
	case f == AnyFraming:
		return "any"
	case f == DwellFraming:
		return "dwell"
	}
	return fmt.Sprintf("%d", int(f))
}

// Accepts reports whether a stage with input framing f can consume batches
// produced with framing out.
func (f Framing) Accepts(out Framing) bool {
	return f == AnyFraming || f == out
}

// Batch is the unit passed between stages. Exactly one stage owns a batch at
// any time; stages transform it in place and hand it on.
type Batch struct {
	sdr.Tag

	// IQ holds the raw samples of the frames when a branch records them.
	IQ []complex64
	// Frames are the time or frequency domain vectors.
	Frames [][]complex64
	// Power replaces Frames after power conversion, in dB.
	Power [][]float64

	// Settle is the number of leading frames to discard (pre-tune only).
	Settle int
	// DwellEnd marks the last batch of a dwell (pre-tune only).
	DwellEnd bool

	// Result is set on batches leaving the retune stage.
	Result *sdr.Result
}

// Len is the number of frames carried.
func (b *Batch) Len() int {
	if b.Power != nil {
		return len(b.Power)
	}
	return len(b.Frames)
}

// LastOfSource reports whether b carries the last frame of its source batch.
func (b *Batch) LastOfSource() bool {
	return b.Frame+b.Len() == b.SourceFrames
}

// Stage is one step of the graph. Process is called once per incoming batch
// and may call emit zero or more times.
type Stage interface {
	Name() string
	In() Framing
	Out() Framing
	Process(ctx context.Context, b *Batch, emit func(*Batch) error) error
}

// Descriptor describes one stage or branch of a built topology.
type Descriptor struct {
	Name string
	In   Framing
	Out  Framing
	// Branch is set for sinks fed with dwell results.
	Branch bool
}

func (d Descriptor) String() string {
	if d.Branch {
		return fmt.Sprintf("{%s}", d.Name)
	}
	return fmt.Sprintf("%s[%s>%s]", d.Name, d.In, d.Out)
}
