// Package export fans dwell results out to independent sinks: tabular
// stores, the spectre collection server, MQTT and IQ recordings.
package export

import (
	"context"

	"github.com/hb9tf/scanner/sdr"
)

type Exporter interface {
	Write(context.Context, <-chan sdr.Result) error
}

// Rows folds results into the tabular samples stored by the SQL, CSV and
// server exporters.
type Rows struct {
	Identifier string
	Source     string
	// BinSize is the width of one stored sample in Hz, 0 keeps every bin.
	BinSize uint64
}

func (r Rows) Samples(res *sdr.Result) []sdr.Sample {
	return res.Samples(r.Identifier, r.Source, r.BinSize)
}
