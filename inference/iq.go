package inference

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/sdr"
)

const iqContentType = "application/octet-stream"

// IQExporter sends the raw samples kept with every NInference-th dwell to
// the model, encoded as Format (cf32 if empty).
type IQExporter struct {
	Engine        Engine
	Model         string
	Format        sdr.Format
	NInference    int
	MinConfidence float64
	MinDB         float64
	Publishers    []Publisher

	mu    sync.Mutex
	stats Stats
}

func (e *IQExporter) Write(ctx context.Context, results <-chan sdr.Result) error {
	format := e.Format
	if format == "" {
		format = sdr.FormatCF32
	}
	var count uint64
	var buf []byte
	for res := range results {
		if len(res.IQ) == 0 {
			continue
		}
		count++
		e.add(func(s *Stats) { s.Results++ })
		if !every(count, e.NInference) {
			continue
		}
		if peak := res.PeakDB(); len(res.Max) > 0 && peak < e.MinDB {
			glog.V(3).Infof("skipping IQ of batch %d: peak %.1fdB below %.1fdB", res.Seq, peak, e.MinDB)
			continue
		}

		var err error
		if buf, err = format.Encode(buf[:0], res.IQ); err != nil {
			return err
		}
		req := &Request{
			Tag:         res.Tag,
			Model:       e.Model,
			Kind:        KindIQ,
			ContentType: iqContentType,
			Body:        buf,
		}
		e.add(func(s *Stats) { s.Inferences++ })
		detections, err := infer(ctx, e.Engine, req, &res, e.MinConfidence)
		if err != nil {
			glog.Warningf("IQ inference of batch %d failed: %s", res.Seq, err)
			e.add(func(s *Stats) { s.Failures++ })
			continue
		}
		e.add(func(s *Stats) { s.Detections += uint64(len(detections)) })
		publish(ctx, e.Publishers, detections)
	}
	return nil
}

func (e *IQExporter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *IQExporter) add(f func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&e.stats)
}
