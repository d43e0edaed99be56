package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hb9tf/scanner/config"
	"github.com/hb9tf/scanner/export"
	"github.com/hb9tf/scanner/fft"
	"github.com/hb9tf/scanner/hackrf"
	"github.com/hb9tf/scanner/pipeline"
	"github.com/hb9tf/scanner/plan"
	"github.com/hb9tf/scanner/replay"
	"github.com/hb9tf/scanner/rtlsdr"
	"github.com/hb9tf/scanner/sdr"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the sweep until interrupted or the replayed file ends.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runScan(ctx, cfg)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the sweep plan and pipeline topology without opening the SDR.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, topo, closeEngine, err := setup(cfg)
		if err != nil {
			return err
		}
		defer closeEngine()
		fmt.Fprintf(cmd.OutOrStdout(), "plan: %s\ntopology: %s\nbranches: %v\n", p, topo, topo.Branches())
		return nil
	},
}

// setup computes the plan and builds the topology for c.
func setup(c *config.Config) (plan.SweepPlan, *pipeline.Topology, func(), error) {
	p, err := c.Plan()
	if err != nil {
		return plan.SweepPlan{}, nil, nil, err
	}
	engine, err := fft.New(c.Transform, c.NFFT, c.FFTBatchSize)
	if err != nil {
		return plan.SweepPlan{}, nil, nil, err
	}
	topo, err := pipeline.Build(c, p, engine)
	if err != nil {
		engine.Close()
		return plan.SweepPlan{}, nil, nil, err
	}
	p = topo.Plan()
	for _, w := range p.Warnings {
		glog.Warningf("sweep plan: %s", w)
	}
	return p, topo, func() { engine.Close() }, nil
}

func newSource(c *config.Config, topo *pipeline.Topology) (sdr.Source, error) {
	opts := sdr.Options{
		SampleRate:   uint64(c.SampleRate),
		BatchSamples: topo.BatchSamples(),
		Gain:         c.Gain,
	}
	switch c.SDR {
	case rtlsdr.SourceName:
		return rtlsdr.New(c.SDRArgs, opts), nil
	case hackrf.SourceName:
		return hackrf.New(c.SDRArgs, opts, captureBatches(topo)), nil
	case replay.SourceName:
		return replay.New(c.SDRArgs, sdr.Format(c.SampleFormat), c.Loop, opts), nil
	}
	return nil, &sdr.ConfigurationError{Field: "sdr", Reason: fmt.Sprintf("%q is not a supported SDR type, pick one of: %s, %s, %s", c.SDR, rtlsdr.SourceName, hackrf.SourceName, replay.SourceName)}
}

// captureBatches is the number of source batches in one dwell, settling
// frames included, so that a single capture covers it.
func captureBatches(topo *pipeline.Topology) int {
	frames := topo.Plan().TuneStepFrames + topo.SettleFrames()
	return (frames + topo.BatchCount() - 1) / topo.BatchCount()
}

func runScan(ctx context.Context, c *config.Config) error {
	if c.Identifier == "" {
		c.Identifier = uuid.NewString()
	}
	p, topo, closeEngine, err := setup(c)
	if err != nil {
		return err
	}
	defer closeEngine()
	glog.Infof("sweep plan: %s", p)
	glog.Infof("topology: %s", topo)

	src, err := newSource(c, topo)
	if err != nil {
		return err
	}
	sinks, closeSinks, err := buildSinks(c, topo, src.Name())
	if err != nil {
		return err
	}
	defer closeSinks()

	router := export.NewRouter(c.SinkBuffer, sinks...)
	results := make(chan sdr.Result, c.SinkBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.NewRunner(topo, src, c.BufferBatches).Run(gctx, results)
	})
	g.Go(func() error {
		return router.Run(gctx, results)
	})
	err = g.Wait()

	for _, st := range router.Stats() {
		glog.Infof("sink %s: %d sent, %d dropped, %d filtered", st.Sink, st.Sent, st.Dropped, st.Filtered)
		if st.Failed {
			glog.Errorf("sink %s failed: %s", st.Sink, st.Err)
		}
	}
	return err
}
