package pipeline

import (
	"context"
	"fmt"

	"github.com/hb9tf/scanner/dsp"
	"github.com/hb9tf/scanner/sdr"
)

type adapter struct {
	name    string
	filter  dsp.FrameFilter
	framing Framing
}

// Wrap embeds a single frame filter in a batch pipeline. Every frame of an
// incoming batch is passed to the filter in order and the results are packed
// back into the batch. A filter returning anything but one frame of the
// original length aborts the pipeline.
func Wrap(name string, f dsp.FrameFilter, framing Framing) Stage {
	return &adapter{name: name, filter: f, framing: framing}
}

func (a *adapter) Name() string { return a.name }
func (a *adapter) In() Framing  { return a.framing }
func (a *adapter) Out() Framing { return a.framing }

func (a *adapter) Process(ctx context.Context, b *Batch, emit func(*Batch) error) error {
	out := make([][]complex64, 0, len(b.Frames))
	for _, frame := range b.Frames {
		res, err := a.filter.ProcessFrame(frame)
		if err != nil {
			return err
		}
		if len(res) != 1 {
			return &sdr.FramingViolation{Stage: a.name, Want: 1, Got: len(res)}
		}
		if len(res[0]) != len(frame) {
			return fmt.Errorf("stage %q changed frame length from %d to %d", a.name, len(frame), len(res[0]))
		}
		out = append(out, res[0])
	}
	b.Frames = out
	return emit(b)
}
