package sdr

import (
	"context"
	"time"
)

// Sample is one aggregated power bin as stored by the tabular exporters and
// accepted by the collection server.
type Sample struct {
	// Metadata
	Identifier string
	Source     string

	// Radio Data
	FreqCenter  uint64
	FreqLow     uint64
	FreqHigh    uint64
	DBHigh      float64
	DBLow       float64
	DBAvg       float64
	SampleCount uint64
	Start       time.Time
	End         time.Time
}

// Tag travels with every batch, frame and result so that independent sinks
// can be correlated after the fact.
type Tag struct {
	// Seq is the index of the source batch, strictly increasing.
	Seq uint64
	// Tune counts the retunes applied by the source so far.
	Tune uint64
	// CenterFreq is the frequency the source was tuned to while capturing.
	CenterFreq uint64
	// Frame is the index of the first frame carried, within the source batch.
	Frame int
	// SourceFrames is the number of frames in the originating source batch.
	SourceFrames int
	Time         time.Time
}

// SampleBatch is a block of complex samples captured at a single center
// frequency. len(Samples) is TransformSize × BatchCount.
type SampleBatch struct {
	Tag
	Samples []complex64
}

// RetuneCommand asks the source to change frequency between two batches.
type RetuneCommand struct {
	// Seq is the batch whose boundary triggered the command.
	Seq uint64
	// Tune is the tuning step index the command starts.
	Tune uint64
	// Freq is the frequency to tune to, jitter included.
	Freq uint64
	// Base is the scheduled frequency before jitter.
	Base   uint64
	Jitter int64
	// HoldDown keeps the source on its current frequency for another dwell.
	HoldDown bool
}

// Source is a tunable receiver yielding fixed-size sample batches.
type Source interface {
	Name() string
	Open(ctx context.Context) error
	// Tune is only ever called between two ReadBatch calls.
	Tune(ctx context.Context, freq uint64) error
	// ReadBatch blocks until a full batch is available.
	ReadBatch(ctx context.Context) (*SampleBatch, error)
	Close() error
}

type Options struct {
	// SampleRate in samples per second.
	SampleRate uint64
	// BatchSamples is the number of complex samples per ReadBatch.
	BatchSamples int
	// Gain in dB, 0 selects automatic gain where supported.
	Gain float64
}
