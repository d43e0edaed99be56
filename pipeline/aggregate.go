package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/floats"

	"github.com/hb9tf/scanner/retune"
	"github.com/hb9tf/scanner/sdr"
)

// aggregateOptions configure how the retune stage summarises a dwell.
type aggregateOptions struct {
	SampleRate    uint64
	TransformSize int
	// PeakFrames is the number of trailing frames whose peak power decides
	// hold-down, 0 for all.
	PeakFrames int
	// BucketRange is the fraction of central bins kept in a result.
	BucketRange float64
	KeepRows    bool
	// KeepIQ is the number of raw samples kept per dwell.
	KeepIQ      int
	TagNow      bool
	Description string
}

// retuneStage is the terminal stage. It accumulates power frames into
// dwells. In post-tune mode it owns the controller, reports every frame and
// batch boundary to it and sends each decision back to the source; in
// pre-tune mode it follows the annotations the source put on the batches.
type retuneStage struct {
	opts      aggregateOptions
	framing   Framing
	ctrl      *retune.Controller
	decisions chan<- retune.Decision

	cur *dwell
}

type dwell struct {
	tag      sdr.Tag
	firstSeq uint64
	start    time.Time
	end      time.Time
	frames   int
	sum      []float64
	max      []float64
	min      []float64
	peaks    []float64
	rows     [][]float64
	iq       []complex64
}

func newRetuneStage(opts aggregateOptions, framing Framing, ctrl *retune.Controller, decisions chan<- retune.Decision) *retuneStage {
	return &retuneStage{opts: opts, framing: framing, ctrl: ctrl, decisions: decisions}
}

func (s *retuneStage) Name() string { return "retune" }
func (s *retuneStage) In() Framing  { return s.framing }
func (s *retuneStage) Out() Framing { return DwellFraming }

func (s *retuneStage) postTune() bool { return s.decisions != nil }

func (s *retuneStage) Process(ctx context.Context, b *Batch, emit func(*Batch) error) error {
	if s.cur != nil && s.cur.tag.CenterFreq != b.CenterFreq {
		return fmt.Errorf("dwell started at %d Hz received batch %d at %d Hz", s.cur.tag.CenterFreq, b.Seq, b.CenterFreq)
	}
	ts := b.Time
	if s.opts.TagNow || ts.IsZero() {
		ts = time.Now()
	}

	per := 0
	if b.Len() > 0 {
		per = len(b.IQ) / b.Len()
	}
	for i, row := range b.Power {
		var discard bool
		if s.postTune() {
			discard = s.ctrl.Frame()
		} else {
			discard = i < b.Settle
		}
		if discard {
			continue
		}
		var iq []complex64
		if per > 0 {
			iq = b.IQ[i*per : (i+1)*per]
		}
		s.add(b, ts, row, iq)
	}

	if !b.LastOfSource() {
		return nil
	}

	done := b.DwellEnd
	if s.postTune() {
		power, ok := s.peak()
		d := s.ctrl.Boundary(b.Seq, power, ok)
		select {
		case s.decisions <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
		done = d.DwellDone
	}
	if !done {
		return nil
	}
	res := s.result()
	s.cur = nil
	if res == nil {
		return nil
	}
	glog.V(2).Infof("dwell %d-%d at %d Hz: %d frames, peak %.1f dB", res.FirstSeq, res.Seq, res.CenterFreq, res.Frames, res.PeakDB())
	return emit(&Batch{Tag: res.Tag, Result: res})
}

// Stop discards a partially accumulated dwell.
func (s *retuneStage) Stop() {
	if s.cur != nil {
		glog.V(2).Infof("discarding partial dwell at %d Hz (%d frames)", s.cur.tag.CenterFreq, s.cur.frames)
	}
	s.cur = nil
	if s.postTune() {
		s.ctrl.Stop()
	}
}

func (s *retuneStage) add(b *Batch, ts time.Time, row []float64, iq []complex64) {
	d := s.cur
	if d == nil {
		n := len(row)
		d = &dwell{
			tag:      b.Tag,
			firstSeq: b.Seq,
			start:    ts,
			sum:      make([]float64, n),
			max:      append([]float64(nil), row...),
			min:      append([]float64(nil), row...),
		}
		s.cur = d
	}
	d.tag = b.Tag
	d.end = ts
	d.frames++
	floats.Add(d.sum, row)
	for i, v := range row {
		if v > d.max[i] {
			d.max[i] = v
		}
		if v < d.min[i] {
			d.min[i] = v
		}
	}
	d.peaks = append(d.peaks, floats.Max(row))
	if s.opts.KeepRows {
		d.rows = append(d.rows, row)
	}
	if room := s.opts.KeepIQ - len(d.iq); room > 0 && len(iq) > 0 {
		if len(iq) > room {
			iq = iq[:room]
		}
		d.iq = append(d.iq, iq...)
	}
}

// peak is the mean of the per-frame peaks over the last PeakFrames frames.
func (s *retuneStage) peak() (float64, bool) {
	if s.cur == nil || len(s.cur.peaks) == 0 {
		return 0, false
	}
	peaks := s.cur.peaks
	if n := s.opts.PeakFrames; n > 0 && n < len(peaks) {
		peaks = peaks[len(peaks)-n:]
	}
	return floats.Sum(peaks) / float64(len(peaks)), true
}

func (s *retuneStage) result() *sdr.Result {
	d := s.cur
	if d == nil || d.frames == 0 {
		return nil
	}
	mean := make([]float64, len(d.sum))
	copy(mean, d.sum)
	floats.Scale(1/float64(d.frames), mean)

	lo, hi := s.bucket(len(mean))
	tag := d.tag
	tag.Frame = 0
	res := &sdr.Result{
		Tag:           tag,
		FirstSeq:      d.firstSeq,
		SampleRate:    s.opts.SampleRate,
		TransformSize: s.opts.TransformSize,
		Start:         d.start,
		End:           d.end,
		Frames:        d.frames,
		Mean:          mean[lo:hi],
		Max:           d.max[lo:hi],
		Min:           d.min[lo:hi],
		IQ:            d.iq,
		Description:   s.opts.Description,
	}
	if hi-lo != len(mean) {
		res.Bandwidth = uint64(math.Round(float64(s.opts.SampleRate) * float64(hi-lo) / float64(len(mean))))
	}
	for _, row := range d.rows {
		res.Rows = append(res.Rows, row[lo:hi])
	}
	return res
}

// bucket returns the central bins kept according to BucketRange.
func (s *retuneStage) bucket(n int) (int, int) {
	r := s.opts.BucketRange
	if r <= 0 || r >= 1 {
		return 0, n
	}
	keep := int(math.Round(float64(n) * r))
	if keep < 1 {
		keep = 1
	}
	lo := (n - keep) / 2
	return lo, lo + keep
}
