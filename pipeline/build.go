package pipeline

import (
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/config"
	"github.com/hb9tf/scanner/dsp"
	"github.com/hb9tf/scanner/fft"
	"github.com/hb9tf/scanner/plan"
	"github.com/hb9tf/scanner/retune"
	"github.com/hb9tf/scanner/sdr"
)

// Branches fed with dwell results.
const (
	BranchRecording      = "recording"
	BranchImageInference = "image-inference"
	BranchIQInference    = "iq-inference"
	BranchTransport      = "transport"
)

// Topology is a validated stage graph. It is not modified once built; every
// run instantiates its own retune stage from it.
type Topology struct {
	plan       plan.SweepPlan
	batchCount int
	pretune    bool
	scale      float64
	// last is the framing entering the retune stage.
	last Framing

	stages      []Stage
	descriptors []Descriptor
	branches    []string
	aggregate   aggregateOptions
	retune      retune.Options
}

// Build assembles the stage graph for cfg. cfg must have been validated and
// p computed from it.
func Build(cfg *config.Config, p plan.SweepPlan, engine fft.Engine) (*Topology, error) {
	if engine.Size() != p.TransformSize {
		return nil, &sdr.ConfigurationError{Field: "nfft", Reason: fmt.Sprintf("transform engine size %d does not match %d", engine.Size(), p.TransformSize)}
	}
	w := dsp.Hann(p.TransformSize)
	scale, err := dsp.Scale(cfg.Scaling, w, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	// Retunes only happen between source batches, so dwells and settling
	// are counted in whole batches.
	batch := engine.BatchSize()
	p = p.AlignToBatch(batch)
	settle := roundUp(cfg.SkipTuneStep, batch)
	if settle != cfg.SkipTuneStep {
		glog.Warningf("skip_tune_step %d rounded up to %d, a multiple of the %d frame source batch", cfg.SkipTuneStep, settle, batch)
	}

	t := &Topology{
		plan:       p,
		batchCount: batch,
		pretune:    cfg.Pretune,
		scale:      scale,
	}
	n := Framing(t.batchCount)

	if cfg.CorrectIQ {
		t.stages = append(t.stages, Wrap("iq-correct", dsp.IQBalance{}, n))
	}
	if cfg.DCBlockEnabled() {
		t.stages = append(t.stages, Wrap("dc-block", dsp.NewDCBlocker(cfg.DCBlockLen, cfg.DCBlockLong), n))
	}
	t.stages = append(t.stages,
		&windowStage{window: w, framing: n},
		&transformStage{engine: engine, framing: n},
	)
	if engine.Order() == fft.DCFirst {
		t.stages = append(t.stages, &rollStage{framing: n})
	}
	last := n
	if t.batchCount > 1 {
		t.stages = append(t.stages, &unbatchStage{framing: n})
		last = 1
	}
	t.stages = append(t.stages, &powerStage{scale: scale, floor: cfg.DBClampFloor, ceil: cfg.DBClampCeil, framing: last})

	if cfg.RecordingEnabled() {
		t.branches = append(t.branches, BranchRecording)
	}
	if cfg.InferenceEnabled() {
		t.branches = append(t.branches, BranchImageInference)
	}
	if cfg.IQInferenceEnabled() {
		t.branches = append(t.branches, BranchIQInference)
	}
	if cfg.TransportEnabled() {
		t.branches = append(t.branches, BranchTransport)
	}

	t.aggregate = aggregateOptions{
		SampleRate:    uint64(cfg.SampleRate),
		TransformSize: p.TransformSize,
		BucketRange:   cfg.BucketRange,
		KeepRows:      cfg.InferenceEnabled(),
		TagNow:        cfg.TagNow,
		Description:   cfg.Description,
	}
	if cfg.HoldDownActive() {
		t.aggregate.PeakFrames = p.PeakFFTRange
	}
	if cfg.RecordingEnabled() {
		t.aggregate.KeepIQ = cfg.WriteSamples
	}
	if cfg.IQInferenceEnabled() {
		t.aggregate.KeepIQ = max(t.aggregate.KeepIQ, p.TuneStepFrames*p.TransformSize)
	}
	t.retune = retune.Options{
		Plan:        p,
		SkipFrames:  settle,
		JitterHz:    cfg.TuneJitterHz,
		JitterSeed:  cfg.JitterSeed,
		HoldDown:    cfg.HoldDownActive(),
		HoldDownDB:  cfg.HoldDownFloorDB,
		HoldDownMax: cfg.HoldDownMaxDwells,
	}

	for _, s := range t.stages {
		t.descriptors = append(t.descriptors, Descriptor{Name: s.Name(), In: s.In(), Out: s.Out()})
	}
	t.last = last
	t.descriptors = append(t.descriptors, Descriptor{Name: "retune", In: last, Out: DwellFraming})
	for _, b := range t.branches {
		t.descriptors = append(t.descriptors, Descriptor{Name: b, In: DwellFraming, Out: DwellFraming, Branch: true})
	}
	if err := validate(n, t.descriptors); err != nil {
		return nil, err
	}
	return t, nil
}

// validate checks that adjacent stages agree on framing, starting from the
// source framing, and that the chain ends in dwell results.
func validate(source Framing, descriptors []Descriptor) error {
	prev, prevName := source, "source"
	for _, d := range descriptors {
		if d.Branch {
			if prev != DwellFraming {
				return fmt.Errorf("branch %q attached to %q which does not produce dwells", d.Name, prevName)
			}
			continue
		}
		if !d.In.Accepts(prev) {
			return &sdr.FramingViolation{Stage: d.Name, Want: int(d.In), Got: int(prev)}
		}
		prev, prevName = d.Out, d.Name
	}
	if prev != DwellFraming {
		return fmt.Errorf("pipeline ends in %q with framing %s, want dwell results", prevName, prev)
	}
	return nil
}

// Stages returns the stage and branch descriptors in order.
func (t *Topology) Stages() []Descriptor {
	return append([]Descriptor(nil), t.descriptors...)
}

// Branches returns the enabled result branches.
func (t *Topology) Branches() []string {
	return append([]string(nil), t.branches...)
}

// HasBranch reports whether the named branch is wired.
func (t *Topology) HasBranch(name string) bool {
	for _, b := range t.branches {
		if b == name {
			return true
		}
	}
	return false
}

// Plan is the sweep plan with the dwell aligned to whole source batches.
func (t *Topology) Plan() plan.SweepPlan { return t.plan }

// BatchCount is the number of frames per source batch.
func (t *Topology) BatchCount() int { return t.batchCount }

// BatchSamples is the number of complex samples per source batch.
func (t *Topology) BatchSamples() int { return t.batchCount * t.plan.TransformSize }

func (t *Topology) Pretune() bool  { return t.pretune }
func (t *Topology) Scale() float64 { return t.scale }

func (t *Topology) RetuneOptions() retune.Options { return t.retune }

// SettleFrames is the number of frames discarded after every retune.
func (t *Topology) SettleFrames() int { return t.retune.SkipFrames }

func roundUp(n, m int) int {
	if m <= 1 {
		return n
	}
	return (n + m - 1) / m * m
}

func (t *Topology) String() string {
	parts := []string{fmt.Sprintf("source[%d]", t.batchCount)}
	for _, d := range t.descriptors {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, " -> ")
}
