// Package plan derives the sweep timing from the scanner configuration: the
// retune step, the number of transform frames captured per tuned frequency,
// and the resulting dwell time.
package plan

import (
	"fmt"
	"math"
	"slices"

	"github.com/hb9tf/scanner/sdr"
)

const (
	// slowStareDwellMS is the stare mode dwell above which updates become sluggish.
	slowStareDwellMS = 1000
)

// Input is the subset of the configuration the planner consumes.
type Input struct {
	SampleRate    float64
	TransformSize int
	// TuneOverlap is the fraction of the sample rate to step on each retune, in (0, 1].
	TuneOverlap  float64
	SweepSeconds float64
	// DwellMS overrides the sweep derived dwell when non-zero.
	DwellMS float64
	// TuneStepFrames overrides every derivation when non-zero.
	TuneStepFrames int
	FreqStart      float64
	// FreqEnd of 0 selects stare mode.
	FreqEnd float64
	// PeakFFTRange is clamped to the resulting TuneStepFrames.
	PeakFFTRange int
	// Ranges replaces the continuous FreqStart..FreqEnd sweep when not empty.
	Ranges []Range
}

// SweepPlan is computed once at startup and never modified afterwards.
type SweepPlan struct {
	FreqStart      uint64
	FreqEnd        uint64
	TuneStepHz     uint64
	TransformSize  int
	FrameRate      int
	TuneStepFrames int
	PeakFFTRange   int
	// DwellMS is the realized time spent on each tuned frequency.
	DwellMS float64
	Stare   bool
	// Degenerate is set when every derivation yielded zero frames and the
	// plan fell back to TransformSize.
	Degenerate bool
	Ranges     []Range
	Warnings   []string
}

// Compute derives the SweepPlan from in.
func Compute(in Input) (SweepPlan, error) {
	if err := validate(in); err != nil {
		return SweepPlan{}, err
	}

	p := SweepPlan{
		TransformSize: in.TransformSize,
		TuneStepHz:    uint64(math.Floor(in.SampleRate * in.TuneOverlap)),
		FreqStart:     uint64(in.FreqStart),
		FreqEnd:       uint64(in.FreqEnd),
	}

	if len(in.Ranges) > 0 {
		p.Ranges = append([]Range(nil), in.Ranges...)
		p.FreqStart, p.FreqEnd = Bounds(p.Ranges)
	} else if in.FreqEnd == 0 {
		p.Stare = true
		p.FreqEnd = p.FreqStart + p.TuneStepHz - 1
	}

	p.FrameRate = int(math.Floor(in.SampleRate / float64(in.TransformSize)))

	span := float64(p.Span())
	switch {
	case in.TuneStepFrames > 0:
		p.TuneStepFrames = in.TuneStepFrames
	case in.DwellMS > 0:
		p.TuneStepFrames = int(float64(p.FrameRate) * in.DwellMS / 1e3)
	case in.SweepSeconds > 0 && p.TuneStepHz > 0 && span > 0:
		targetRetuneHz := span / in.SweepSeconds / float64(p.TuneStepHz)
		p.TuneStepFrames = int(float64(p.FrameRate) / targetRetuneHz)
	}
	if p.TuneStepFrames <= 0 {
		p.TuneStepFrames = in.TransformSize
		p.Degenerate = true
		p.Warnings = append(p.Warnings, fmt.Sprintf("tune step frames cannot be 0, defaulting to transform size %d", in.TransformSize))
	}

	if p.FrameRate > 0 {
		p.DwellMS = float64(p.TuneStepFrames) / float64(p.FrameRate) * 1e3
	} else {
		p.DwellMS = float64(p.TuneStepFrames*in.TransformSize) / in.SampleRate * 1e3
	}
	if p.Stare && p.DwellMS > slowStareDwellMS {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%.0fms dwell time in stare mode, updates will be slow", p.DwellMS))
	}

	p.PeakFFTRange = in.PeakFFTRange
	if p.PeakFFTRange > p.TuneStepFrames {
		p.PeakFFTRange = p.TuneStepFrames
	}
	return p, nil
}

func validate(in Input) error {
	switch {
	case in.SampleRate <= 0:
		return &sdr.ConfigurationError{Field: "sample_rate", Reason: "must be positive"}
	case in.TransformSize <= 0:
		return &sdr.ConfigurationError{Field: "nfft", Reason: "must be positive"}
	case in.TuneOverlap <= 0 || in.TuneOverlap > 1:
		return &sdr.ConfigurationError{Field: "tuneoverlap", Reason: fmt.Sprintf("%v is outside (0, 1]", in.TuneOverlap)}
	case in.SweepSeconds < 0:
		return &sdr.ConfigurationError{Field: "sweep_sec", Reason: "must not be negative"}
	case in.DwellMS < 0:
		return &sdr.ConfigurationError{Field: "tune_dwell_ms", Reason: "must not be negative"}
	case in.TuneStepFrames < 0:
		return &sdr.ConfigurationError{Field: "tune_step_fft", Reason: "must not be negative"}
	case in.FreqStart < 0:
		return &sdr.ConfigurationError{Field: "freq_start", Reason: "must not be negative"}
	case len(in.Ranges) == 0 && in.FreqEnd != 0 && in.FreqEnd <= in.FreqStart:
		return &sdr.ConfigurationError{Field: "freq_end", Reason: fmt.Sprintf("%.0f is not above freq_start %.0f", in.FreqEnd, in.FreqStart)}
	}
	if in.TuneStepFrames > 0 && in.DwellMS > 0 {
		frameRate := math.Floor(in.SampleRate / float64(in.TransformSize))
		if derived := int(frameRate * in.DwellMS / 1e3); derived != in.TuneStepFrames {
			return &sdr.ConfigurationError{
				Field:  "tune_dwell_ms",
				Reason: fmt.Sprintf("%vms is %d frames, contradicting tune_step_fft %d", in.DwellMS, derived, in.TuneStepFrames),
			}
		}
	}
	return nil
}

// Span is the total bandwidth visited by one sweep.
func (p SweepPlan) Span() uint64 {
	if len(p.Ranges) > 0 {
		var span uint64
		for _, r := range p.Ranges {
			span += r.Width()
		}
		return span
	}
	return p.FreqEnd - p.FreqStart
}

// Steps is the number of tuning steps in one sweep.
func (p SweepPlan) Steps() int {
	if p.Stare || p.TuneStepHz == 0 {
		return 1
	}
	if len(p.Ranges) > 0 {
		steps := 0
		for _, r := range p.Ranges {
			steps += r.Steps(p.TuneStepHz)
		}
		return steps
	}
	return int(p.Span()/p.TuneStepHz) + 1
}

// SweepSeconds is the realized duration of one full sweep.
func (p SweepPlan) SweepSeconds() float64 {
	return float64(p.Steps()) * p.DwellMS / 1e3
}

// AlignToBatch rounds TuneStepFrames up to a whole number of source batches
// of batch frames, the only points where the source can be retuned. The
// realized dwell and a warning are recorded on the returned copy.
func (p SweepPlan) AlignToBatch(batch int) SweepPlan {
	if batch <= 1 || p.TuneStepFrames%batch == 0 {
		return p
	}
	aligned := (p.TuneStepFrames + batch - 1) / batch * batch
	p.Warnings = append(slices.Clip(p.Warnings), fmt.Sprintf("tune step frames %d rounded up to %d, a multiple of the %d frame source batch", p.TuneStepFrames, aligned, batch))
	p.DwellMS *= float64(aligned) / float64(p.TuneStepFrames)
	p.TuneStepFrames = aligned
	return p
}

func (p SweepPlan) String() string {
	return fmt.Sprintf("%.3fMHz-%.3fMHz step %.3fMHz, %d frames per step (dwell %.2fms, %d steps, sweep %.2fs, stare=%t)",
		float64(p.FreqStart)/1e6, float64(p.FreqEnd)/1e6, float64(p.TuneStepHz)/1e6,
		p.TuneStepFrames, p.DwellMS, p.Steps(), p.SweepSeconds(), p.Stare)
}
