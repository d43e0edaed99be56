package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/hb9tf/scanner/retune"
	"github.com/hb9tf/scanner/sdr"
)

// Runner drives one topology with one source.
type Runner struct {
	topo   *Topology
	src    sdr.Source
	buffer int
}

func NewRunner(t *Topology, src sdr.Source, buffer int) *Runner {
	if buffer < 1 {
		buffer = 1
	}
	return &Runner{topo: t, src: src, buffer: buffer}
}

// Run opens the source and streams dwell results to results until ctx is
// cancelled or the source is exhausted. results is closed when Run returns
// and the source is always closed. Cancelling ctx is an orderly stop and
// returns nil.
func (r *Runner) Run(ctx context.Context, results chan<- sdr.Result) error {
	defer close(results)

	if err := r.src.Open(ctx); err != nil {
		return &sdr.SourceFailure{Source: r.src.Name(), Err: err}
	}
	defer func() {
		if err := r.src.Close(); err != nil {
			glog.Warningf("unable to close source %s: %s", r.src.Name(), err)
		}
	}()

	ctrl := retune.New(r.topo.RetuneOptions())
	var (
		decisions chan retune.Decision
		owner     *retune.Controller
	)
	if !r.topo.Pretune() {
		// Post-tune: the retune stage owns the controller and answers every
		// batch before the source reads the next one.
		decisions = make(chan retune.Decision, 1)
		owner = ctrl
	}

	g, gctx := errgroup.WithContext(ctx)

	head := make(chan *Batch, r.buffer)
	g.Go(func() error {
		defer close(head)
		return r.produce(gctx, ctrl, head, decisions)
	})

	in := head
	stages := append([]Stage(nil), r.topo.stages...)
	stages = append(stages, newRetuneStage(r.topo.aggregate, r.topo.last, owner, decisions))
	for _, st := range stages {
		src, out := in, make(chan *Batch, r.buffer)
		g.Go(func() error { return runStage(gctx, st, src, out) })
		in = out
	}

	g.Go(func() error {
		for b := range in {
			select {
			case results <- *b.Result:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		glog.Infof("pipeline stopped: %s", ctx.Err())
		return nil
	}
	return err
}

func runStage(ctx context.Context, st Stage, in <-chan *Batch, out chan<- *Batch) error {
	defer close(out)
	emit := func(b *Batch) error {
		if want := st.Out(); want > 0 && b.Len() != int(want) {
			return &sdr.FramingViolation{Stage: st.Name(), Want: int(want), Got: b.Len()}
		}
		select {
		case out <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		select {
		case b, ok := <-in:
			if !ok {
				if s, ok := st.(interface{ Stop() }); ok {
					s.Stop()
				}
				return nil
			}
			if want := st.In(); want > 0 && b.Len() != int(want) {
				return &sdr.FramingViolation{Stage: st.Name(), Want: int(want), Got: b.Len()}
			}
			if err := st.Process(ctx, b, emit); err != nil {
				return fmt.Errorf("stage %s: %w", st.Name(), err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// produce is the source loop. It is the only place the source is tuned or
// read, and every command is applied between two reads.
func (r *Runner) produce(ctx context.Context, ctrl *retune.Controller, out chan<- *Batch, decisions <-chan retune.Decision) error {
	p := r.topo.Plan()
	frames := r.topo.BatchCount()
	want := r.topo.BatchSamples()
	keepIQ := r.topo.aggregate.KeepIQ > 0

	initial := ctrl.Initial()
	if err := r.src.Tune(ctx, initial.Freq); err != nil {
		return &sdr.SourceFailure{Source: r.src.Name(), Err: fmt.Errorf("initial tune to %d Hz: %w", initial.Freq, err)}
	}
	current, tune := initial.Freq, initial.Tune

	for seq := uint64(0); ; seq++ {
		sb, err := r.src.ReadBatch(ctx)
		switch {
		case errors.Is(err, io.EOF):
			glog.Infof("source %s exhausted after %d batches", r.src.Name(), seq)
			if decisions == nil {
				ctrl.Stop()
			}
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &sdr.SourceFailure{Source: r.src.Name(), Err: err}
		case len(sb.Samples) != want:
			return &sdr.SourceFailure{Source: r.src.Name(), Err: fmt.Errorf("batch %d has %d samples, want %d", seq, len(sb.Samples), want)}
		}

		b := &Batch{
			Tag: sdr.Tag{
				Seq:          seq,
				Tune:         tune,
				CenterFreq:   current,
				SourceFrames: frames,
				Time:         sb.Time,
			},
			Frames: make([][]complex64, frames),
		}
		if b.Time.IsZero() {
			b.Time = time.Now()
		}
		if keepIQ {
			b.IQ = append([]complex64(nil), sb.Samples...)
		}
		for i := range b.Frames {
			b.Frames[i] = sb.Samples[i*p.TransformSize : (i+1)*p.TransformSize]
		}

		var d retune.Decision
		if decisions == nil {
			for i := 0; i < frames; i++ {
				if ctrl.Frame() {
					b.Settle++
				}
			}
			d = ctrl.Boundary(seq, 0, false)
			b.DwellEnd = d.DwellDone
		}

		select {
		case out <- b:
		case <-ctx.Done():
			return ctx.Err()
		}

		if decisions != nil {
			select {
			case d = <-decisions:
			case <-ctx.Done():
				return ctx.Err()
			}
			if d.Seq != seq {
				return fmt.Errorf("retune decision for batch %d arrived while waiting for batch %d", d.Seq, seq)
			}
		}

		if cmd := d.Command; cmd != nil && !cmd.HoldDown {
			if err := r.src.Tune(ctx, cmd.Freq); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &sdr.SourceFailure{Source: r.src.Name(), Err: fmt.Errorf("tune to %d Hz: %w", cmd.Freq, err)}
			}
			current, tune = cmd.Freq, cmd.Tune
		}
	}
}
