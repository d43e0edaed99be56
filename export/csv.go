package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/sdr"
)

// CSV writes one line per sample to W, stdout when unset.
type CSV struct {
	Rows
	W io.Writer
}

func (c *CSV) Write(ctx context.Context, results <-chan sdr.Result) error {
	out := c.W
	if out == nil {
		out = os.Stdout
	}
	w := csv.NewWriter(out)
	if err := w.Write([]string{
		"Source",
		"Identifier",
		"FreqCenter",
		"FreqLow",
		"FreqHigh",
		"StartUnixMilli",
		"EndUnixMilli",
		"dBLow",
		"dBHigh",
		"dbAvg",
		"SampleCount",
	}); err != nil {
		return fmt.Errorf("unable to write CSV header: %w", err)
	}

	for res := range results {
		for _, s := range c.Samples(&res) {
			if err := w.Write([]string{
				s.Source,
				s.Identifier,
				fmt.Sprintf("%d", s.FreqCenter),
				fmt.Sprintf("%d", s.FreqLow),
				fmt.Sprintf("%d", s.FreqHigh),
				fmt.Sprintf("%d", s.Start.UnixMilli()),
				fmt.Sprintf("%d", s.End.UnixMilli()),
				fmt.Sprintf("%f", s.DBLow),
				fmt.Sprintf("%f", s.DBHigh),
				fmt.Sprintf("%f", s.DBAvg),
				fmt.Sprintf("%d", s.SampleCount),
			}); err != nil {
				glog.Warningf("error while writing CSV line: %s", err)
			}
		}

		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("error flushing CSV: %w", err)
		}
	}
	return nil
}
