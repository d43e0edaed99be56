// Package retune implements the scanner's tuning state machine. The
// controller owns the frequency pointer and the frame counter; the pipeline
// reports frames and batch boundaries to it and applies the commands it
// returns, strictly between two batches.
package retune

import (
	"fmt"
	"math/rand/v2"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/plan"
	"github.com/hb9tf/scanner/sdr"
)

type State int

const (
	// Accumulate counts frames captured at the current frequency.
	Accumulate State = iota
	// EmitRetune is entered for the duration of a Boundary call once enough
	// frames have been counted.
	EmitRetune
	// Settle discards frames right after a retune.
	Settle
)

func (s State) String() string {
	switch s {
	case Accumulate:
		return "ACCUMULATE"
	case EmitRetune:
		return "EMIT_RETUNE"
	case Settle:
		return "SETTLE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options struct {
	Plan plan.SweepPlan
	// SkipFrames is the number of frames discarded after every retune.
	SkipFrames int
	// JitterHz bounds the random offset added to every scheduled frequency.
	JitterHz   uint64
	JitterSeed uint64
	// HoldDown enables staying on a quiet frequency. It requires power
	// measurements and is therefore only honoured in post-tune mode.
	HoldDown bool
	// HoldDownDB is the power below which a frequency counts as quiet.
	HoldDownDB float64
	// HoldDownMax caps the number of consecutive extra dwells, 0 means 1.
	HoldDownMax int
}

// Decision is the controller's answer to a batch boundary.
type Decision struct {
	// Seq is the batch whose boundary was reported.
	Seq uint64
	// DwellDone marks the end of a dwell: the frames accumulated so far
	// belong to one result.
	DwellDone bool
	// Command must be applied before the next batch is read. Nil keeps the
	// source where it is.
	Command *sdr.RetuneCommand
}

type Controller struct {
	opts Options
	rng  *rand.Rand

	state    State
	count    int
	settle   int
	base     uint64
	current  uint64
	rangeIdx int
	tune     uint64
	holds    int
	stopped  bool
}

func New(opts Options) *Controller {
	if opts.HoldDownMax < 1 {
		opts.HoldDownMax = 1
	}
	c := &Controller{
		opts:  opts,
		rng:   rand.New(rand.NewPCG(opts.JitterSeed, opts.JitterSeed^0x9e3779b97f4a7c15)),
		state: Accumulate,
		base:  opts.Plan.FreqStart,
	}
	if len(opts.Plan.Ranges) > 0 {
		c.base = opts.Plan.Ranges[0].Start
	}
	return c
}

// Initial returns the command tuning the source to the first frequency. It
// must be applied before the first batch is read.
func (c *Controller) Initial() sdr.RetuneCommand {
	cmd := c.command(0)
	c.current = cmd.Freq
	glog.V(2).Infof("initial tune to %d Hz (base %d, jitter %d)", cmd.Freq, cmd.Base, cmd.Jitter)
	return cmd
}

// Frame records one frame captured at the current frequency. It returns true
// when the frame is settling noise and must be discarded.
func (c *Controller) Frame() bool {
	if c.stopped {
		return true
	}
	if c.state == Settle {
		c.settle--
		if c.settle <= 0 {
			c.state = Accumulate
		}
		return true
	}
	c.count++
	return false
}

// Boundary is called once at the end of every batch. power is the dwell
// power used for hold-down and is ignored when havePower is false.
func (c *Controller) Boundary(seq uint64, power float64, havePower bool) Decision {
	d := Decision{Seq: seq}
	if c.stopped || c.count < c.opts.Plan.TuneStepFrames {
		return d
	}

	c.state = EmitRetune
	d.DwellDone = true
	c.count = 0

	switch {
	case c.opts.Plan.Stare:
		c.state = Accumulate
		return d
	case c.opts.HoldDown && havePower && power < c.opts.HoldDownDB && c.holds < c.opts.HoldDownMax:
		c.holds++
		c.state = Accumulate
		d.Command = &sdr.RetuneCommand{
			Seq:      seq,
			Tune:     c.tune,
			Freq:     c.current,
			Base:     c.base,
			HoldDown: true,
		}
		glog.V(3).Infof("batch %d: holding %d Hz at %.1f dB (%d/%d)", seq, c.current, power, c.holds, c.opts.HoldDownMax)
		return d
	}

	c.holds = 0
	c.advance()
	c.tune++
	cmd := c.command(seq)
	c.current = cmd.Freq
	d.Command = &cmd

	c.state = Accumulate
	if c.opts.SkipFrames > 0 {
		c.state = Settle
		c.settle = c.opts.SkipFrames
	}
	glog.V(3).Infof("batch %d: retune %d to %d Hz (base %d, jitter %d)", seq, cmd.Tune, cmd.Freq, cmd.Base, cmd.Jitter)
	return d
}

// Stop ends scheduling. Frames reported afterwards are discarded and no
// further commands are emitted.
func (c *Controller) Stop() {
	c.stopped = true
}

func (c *Controller) State() State    { return c.state }
func (c *Controller) Count() int      { return c.count }
func (c *Controller) Base() uint64    { return c.base }
func (c *Controller) Current() uint64 { return c.current }

// advance moves the unjittered frequency pointer to the next step.
func (c *Controller) advance() {
	p := c.opts.Plan
	next := c.base + p.TuneStepHz
	if len(p.Ranges) == 0 {
		if next > p.FreqEnd {
			next = p.FreqStart
		}
		c.base = next
		return
	}
	if next > p.Ranges[c.rangeIdx].End {
		c.rangeIdx = (c.rangeIdx + 1) % len(p.Ranges)
		next = p.Ranges[c.rangeIdx].Start
	}
	c.base = next
}

func (c *Controller) command(seq uint64) sdr.RetuneCommand {
	cmd := sdr.RetuneCommand{Seq: seq, Tune: c.tune, Base: c.base, Freq: c.base}
	if j := c.opts.JitterHz; j > 0 {
		cmd.Jitter = int64(c.rng.Uint64N(2*j+1)) - int64(j)
		if cmd.Jitter < 0 && uint64(-cmd.Jitter) > c.base {
			cmd.Jitter = -int64(c.base)
		}
		cmd.Freq = uint64(int64(c.base) + cmd.Jitter)
	}
	return cmd
}
