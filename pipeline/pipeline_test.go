package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/scanner/config"
	"github.com/hb9tf/scanner/dsp"
	"github.com/hb9tf/scanner/fft"
	"github.com/hb9tf/scanner/plan"
	"github.com/hb9tf/scanner/sdr"
)

const testNFFT = 64

type tuneEvent struct {
	reads int
	freq  uint64
}

// fakeSource serves batches of a constant carrier and records when it was
// tuned relative to its reads.
type fakeSource struct {
	samples int
	batches int // 0 serves until cancelled

	mu     sync.Mutex
	reads  int
	tunes  []tuneEvent
	opened bool
	closed bool
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	return nil
}

func (f *fakeSource) Tune(_ context.Context, freq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tunes = append(f.tunes, tuneEvent{reads: f.reads, freq: freq})
	return nil
}

func (f *fakeSource) ReadBatch(ctx context.Context) (*sdr.SampleBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batches > 0 && f.reads >= f.batches {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.reads++
	s := make([]complex64, f.samples)
	for i := range s {
		s[i] = complex(0.5, 0)
	}
	return &sdr.SampleBatch{Samples: s}, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.NFFT = testNFFT
	cfg.SampleRate = 4e6
	return cfg
}

func testPlan() plan.SweepPlan {
	return plan.SweepPlan{
		FreqStart:      100e6,
		FreqEnd:        106e6,
		TuneStepHz:     2e6,
		TransformSize:  testNFFT,
		TuneStepFrames: 4,
	}
}

func build(t *testing.T, cfg *config.Config, p plan.SweepPlan) *Topology {
	t.Helper()
	engine, err := fft.New(cfg.Transform, cfg.NFFT, cfg.FFTBatchSize)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	topo, err := Build(cfg, p, engine)
	require.NoError(t, err)
	return topo
}

func run(t *testing.T, topo *Topology, src *fakeSource) []sdr.Result {
	t.Helper()
	results := make(chan sdr.Result)
	errc := make(chan error, 1)
	go func() { errc <- NewRunner(topo, src, 2).Run(context.Background(), results) }()
	var got []sdr.Result
	for r := range results {
		got = append(got, r)
	}
	require.NoError(t, <-errc)
	assert.True(t, src.opened)
	assert.True(t, src.closed)
	return got
}

func names(ds []Descriptor) []string {
	var out []string
	for _, d := range ds {
		out = append(out, d.Name)
	}
	return out
}

type passFilter struct{}

func (passFilter) Name() string { return "pass" }
func (passFilter) ProcessFrame(f []complex64) ([][]complex64, error) {
	out := make([]complex64, len(f))
	for i, v := range f {
		out[i] = v * 2
	}
	return [][]complex64{out}, nil
}

type dupFilter struct{}

func (dupFilter) Name() string { return "dup" }
func (dupFilter) ProcessFrame(f []complex64) ([][]complex64, error) {
	return [][]complex64{f, f}, nil
}

func TestWrapPreservesOrder(t *testing.T) {
	b := &Batch{Frames: [][]complex64{{1, 2}, {3, 4}, {5, 6}}}
	var got *Batch
	err := Wrap("pass", passFilter{}, 3).Process(context.Background(), b, func(out *Batch) error {
		got = out
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]complex64{{2, 4}, {6, 8}, {10, 12}}, got.Frames)
}

func TestWrapRejectsFramingChange(t *testing.T) {
	b := &Batch{Frames: [][]complex64{{1, 2}, {3, 4}}}
	err := Wrap("dup", dupFilter{}, 2).Process(context.Background(), b, func(*Batch) error {
		t.Fatal("rigged filter must not emit")
		return nil
	})
	var fv *sdr.FramingViolation
	require.True(t, errors.As(err, &fv))
	assert.Equal(t, "dup", fv.Stage)
	assert.Equal(t, 2, fv.Got)
}

func TestWrapDCBlocker(t *testing.T) {
	frames := [][]complex64{make([]complex64, 32), make([]complex64, 32)}
	for _, f := range frames {
		for i := range f {
			f[i] = 1
		}
	}
	b := &Batch{Frames: frames}
	var got *Batch
	err := Wrap("dc-block", dsp.NewDCBlocker(8, false), 2).Process(context.Background(), b, func(out *Batch) error {
		got = out
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	for _, f := range got.Frames {
		assert.Len(t, f, 32)
	}
}

func TestBuildStages(t *testing.T) {
	tests := []struct {
		desc  string
		setup func(*config.Config)
		batch int
		want  []string
	}{
		{
			desc:  "software",
			setup: func(*config.Config) {},
			batch: 1,
			want:  []string{"window", "transform/software", "power", "retune"},
		},
		{
			desc:  "offload appends roll",
			setup: func(c *config.Config) { c.Transform = config.TransformOffload },
			batch: 1,
			want:  []string{"window", "transform/offload", "roll", "power", "retune"},
		},
		{
			desc: "accelerator appends roll and unbatch",
			setup: func(c *config.Config) {
				c.Transform = config.TransformAccelerator
				c.FFTBatchSize = 8
			},
			batch: 8,
			want:  []string{"window", "transform/accelerator", "roll", "unbatch", "power", "retune"},
		},
		{
			desc: "corrections and every branch",
			setup: func(c *config.Config) {
				c.CorrectIQ = true
				c.DCBlockLen = 16
				c.WriteSamples = 1024
				c.SampleDir = t.TempDir()
				c.Inference = config.InferenceConfig{ModelServer: "http://localhost:8080", ModelName: "mini2_snr"}
				c.IQInference = config.InferenceConfig{ModelServer: "http://localhost:8080", ModelName: "iq"}
				c.Outputs = "csv"
			},
			batch: 1,
			want: []string{"iq-correct", "dc-block", "window", "transform/software", "power", "retune",
				BranchRecording, BranchImageInference, BranchIQInference, BranchTransport},
		},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := testConfig()
			tc.setup(cfg)
			require.NoError(t, cfg.Validate())
			topo := build(t, cfg, testPlan())
			assert.Equal(t, tc.want, names(topo.Stages()))
			assert.Equal(t, tc.batch, topo.BatchCount())
			assert.Equal(t, tc.batch*testNFFT, topo.BatchSamples())

			stages := topo.Stages()
			last := stages[len(stages)-1]
			if !last.Branch {
				assert.Equal(t, DwellFraming, last.Out)
			}
		})
	}
}

func TestBuildOmitsDisabledBranches(t *testing.T) {
	cfg := testConfig()
	cfg.Inference = config.InferenceConfig{ModelName: "mini2_snr"}
	topo := build(t, cfg, testPlan())
	assert.Empty(t, topo.Branches())
	assert.False(t, topo.HasBranch(BranchImageInference))
}

func TestStagesIsACopy(t *testing.T) {
	topo := build(t, testConfig(), testPlan())
	s := topo.Stages()
	s[0].Name = "mutated"
	assert.Equal(t, "window", topo.Stages()[0].Name)
}

func TestBuildRejectsScaling(t *testing.T) {
	cfg := testConfig()
	cfg.Scaling = "magnitude"
	engine := fft.NewSoftware(testNFFT)
	_, err := Build(cfg, testPlan(), engine)
	var cfgErr *sdr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "scaling", cfgErr.Field)
}

func TestBuildScalingModes(t *testing.T) {
	spectrum := build(t, testConfig(), testPlan())
	cfg := testConfig()
	cfg.Scaling = config.ScalingDensity
	density := build(t, cfg, testPlan())
	assert.NotEqual(t, spectrum.Scale(), density.Scale())
	assert.Equal(t, spectrum.Scale(), build(t, testConfig(), testPlan()).Scale())
}

func TestBuildRejectsEngineSize(t *testing.T) {
	_, err := Build(testConfig(), testPlan(), fft.NewSoftware(128))
	var cfgErr *sdr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
}

func TestValidateFraming(t *testing.T) {
	err := validate(4, []Descriptor{
		{Name: "window", In: 4, Out: 4},
		{Name: "power", In: 1, Out: 1},
	})
	var fv *sdr.FramingViolation
	require.True(t, errors.As(err, &fv))
	assert.Equal(t, "power", fv.Stage)

	err = validate(1, []Descriptor{{Name: "window", In: 1, Out: 1}})
	assert.Error(t, err, "chain must end in dwell results")
}

func centers(results []sdr.Result) []uint64 {
	var out []uint64
	for _, r := range results {
		out = append(out, r.CenterFreq)
	}
	return out
}

func TestRunPostTune(t *testing.T) {
	topo := build(t, testConfig(), testPlan())
	src := &fakeSource{samples: topo.BatchSamples(), batches: 16}
	results := run(t, topo, src)

	require.Len(t, results, 4)
	assert.Equal(t, []uint64{100e6, 102e6, 104e6, 106e6}, centers(results))
	for i, r := range results {
		assert.Equal(t, uint64(4*i), r.FirstSeq)
		assert.Equal(t, uint64(4*i+3), r.Seq)
		assert.Equal(t, uint64(i), r.Tune)
		assert.Equal(t, 4, r.Frames)
		require.Len(t, r.Mean, testNFFT)
		// A constant input is a DC carrier: centered order puts it mid spectrum.
		assert.Equal(t, testNFFT/2, argmax(r.Max))
	}
	// Every tune lands on a batch boundary that closes a dwell.
	assert.Equal(t, []tuneEvent{{0, 100e6}, {4, 102e6}, {8, 104e6}, {12, 106e6}, {16, 100e6}}, src.tunes)
}

func TestRunPreTuneWithSettle(t *testing.T) {
	cfg := testConfig()
	cfg.Pretune = true
	cfg.SkipTuneStep = 1
	topo := build(t, cfg, testPlan())
	src := &fakeSource{samples: topo.BatchSamples(), batches: 14}
	results := run(t, topo, src)

	require.Len(t, results, 3)
	assert.Equal(t, []uint64{100e6, 102e6, 104e6}, centers(results))
	assert.Equal(t, uint64(0), results[0].FirstSeq)
	// The first batch after each retune is settling noise.
	assert.Equal(t, uint64(5), results[1].FirstSeq)
	assert.Equal(t, uint64(8), results[1].Seq)
	assert.Equal(t, uint64(10), results[2].FirstSeq)
	for _, r := range results {
		assert.Equal(t, 4, r.Frames)
	}
	assert.Equal(t, []tuneEvent{{0, 100e6}, {4, 102e6}, {9, 104e6}, {14, 106e6}}, src.tunes)
}

func TestRunAccelerator(t *testing.T) {
	cfg := testConfig()
	cfg.Transform = config.TransformAccelerator
	cfg.FFTBatchSize = 4
	topo := build(t, cfg, testPlan())
	src := &fakeSource{samples: topo.BatchSamples(), batches: 3}
	results := run(t, topo, src)

	require.Len(t, results, 3)
	assert.Equal(t, []uint64{100e6, 102e6, 104e6}, centers(results))
	for i, r := range results {
		assert.Equal(t, uint64(i), r.FirstSeq)
		assert.Equal(t, uint64(i), r.Seq)
		assert.Equal(t, 4, r.Frames)
		assert.Equal(t, testNFFT/2, argmax(r.Max))
	}
}

func TestRunAcceleratorAlignsDwellToBatches(t *testing.T) {
	cfg := testConfig()
	cfg.Transform = config.TransformAccelerator
	cfg.FFTBatchSize = 3
	topo := build(t, cfg, testPlan())
	require.Equal(t, 6, topo.Plan().TuneStepFrames)
	require.Len(t, topo.Plan().Warnings, 1)
	assert.Equal(t, 4, testPlan().TuneStepFrames)

	src := &fakeSource{samples: topo.BatchSamples(), batches: 6}
	results := run(t, topo, src)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, uint64(2*i), r.FirstSeq)
		assert.Equal(t, uint64(2*i+1), r.Seq)
		assert.Equal(t, topo.Plan().TuneStepFrames, r.Frames)
	}
	assert.Equal(t, []tuneEvent{{0, 100e6}, {2, 102e6}, {4, 104e6}, {6, 106e6}}, src.tunes)
}

func TestRunAcceleratorSettlesWholeBatches(t *testing.T) {
	cfg := testConfig()
	cfg.Transform = config.TransformAccelerator
	cfg.FFTBatchSize = 3
	cfg.SkipTuneStep = 1
	topo := build(t, cfg, testPlan())
	require.Equal(t, 3, topo.SettleFrames())

	src := &fakeSource{samples: topo.BatchSamples(), batches: 8}
	results := run(t, topo, src)

	require.Len(t, results, 3)
	assert.Equal(t, []uint64{0, 3, 6}, []uint64{results[0].FirstSeq, results[1].FirstSeq, results[2].FirstSeq})
	for _, r := range results {
		assert.Equal(t, 6, r.Frames)
	}
}

func TestLastOfSource(t *testing.T) {
	b := &Batch{Tag: sdr.Tag{Frame: 1, SourceFrames: 3}, Frames: [][]complex64{{1}}}
	assert.False(t, b.LastOfSource())
	b.Frame = 2
	assert.True(t, b.LastOfSource())

	whole := &Batch{Tag: sdr.Tag{SourceFrames: 2}, Power: [][]float64{{0}, {0}}}
	assert.True(t, whole.LastOfSource())
}

func TestRunHoldDown(t *testing.T) {
	cfg := testConfig()
	cfg.LowPowerHoldDown = true
	cfg.HoldDownFloorDB = 100
	cfg.HoldDownMaxDwells = 2
	topo := build(t, cfg, testPlan())
	src := &fakeSource{samples: topo.BatchSamples(), batches: 16}
	results := run(t, topo, src)

	assert.Equal(t, []uint64{100e6, 100e6, 100e6, 102e6}, centers(results))
	assert.Equal(t, []tuneEvent{{0, 100e6}, {12, 102e6}}, src.tunes)
}

func TestRunKeepsIQForRecording(t *testing.T) {
	cfg := testConfig()
	cfg.WriteSamples = 100
	cfg.SampleDir = t.TempDir()
	topo := build(t, cfg, testPlan())
	src := &fakeSource{samples: topo.BatchSamples(), batches: 4}
	results := run(t, topo, src)

	require.Len(t, results, 1)
	require.Len(t, results[0].IQ, 100)
	assert.Equal(t, complex64(complex(0.5, 0)), results[0].IQ[99])
}

func TestRunBucketRange(t *testing.T) {
	cfg := testConfig()
	cfg.BucketRange = 0.5
	topo := build(t, cfg, testPlan())
	src := &fakeSource{samples: topo.BatchSamples(), batches: 4}
	results := run(t, topo, src)

	require.Len(t, results, 1)
	r := results[0]
	assert.Len(t, r.Mean, testNFFT/2)
	assert.Equal(t, uint64(2e6), r.Bandwidth)
	assert.Equal(t, uint64(99e6), r.FreqLow())
}

func TestRunFramingViolationIsFatal(t *testing.T) {
	topo := build(t, testConfig(), testPlan())
	topo.stages = append([]Stage{Wrap("dup", dupFilter{}, 1)}, topo.stages...)
	src := &fakeSource{samples: topo.BatchSamples()}

	results := make(chan sdr.Result)
	errc := make(chan error, 1)
	go func() { errc <- NewRunner(topo, src, 2).Run(context.Background(), results) }()
	for range results {
		t.Fatal("no result expected")
	}
	var fv *sdr.FramingViolation
	require.True(t, errors.As(<-errc, &fv))
	assert.True(t, src.closed)
}

func TestRunCancel(t *testing.T) {
	topo := build(t, testConfig(), testPlan())
	src := &fakeSource{samples: topo.BatchSamples()}

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan sdr.Result)
	errc := make(chan error, 1)
	go func() { errc <- NewRunner(topo, src, 2).Run(ctx, results) }()

	<-results
	cancel()
	for range results {
	}
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	assert.True(t, src.closed)
}

func TestRunWrongBatchLength(t *testing.T) {
	topo := build(t, testConfig(), testPlan())
	src := &fakeSource{samples: 10, batches: 2}
	results := make(chan sdr.Result)
	errc := make(chan error, 1)
	go func() { errc <- NewRunner(topo, src, 2).Run(context.Background(), results) }()
	for range results {
	}
	var sf *sdr.SourceFailure
	require.True(t, errors.As(<-errc, &sf))
	assert.Equal(t, "fake", sf.Source)
}

func argmax(v []float64) int {
	idx := 0
	for i := range v {
		if v[i] > v[idx] {
			idx = i
		}
	}
	return idx
}
