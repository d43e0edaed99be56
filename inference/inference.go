// Package inference runs dwell results through a remote model server and
// publishes what it finds.
package inference

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/sdr"
)

// Kinds of inference input.
const (
	KindImage = "image"
	KindIQ    = "iq"
)

// Request is one inference call.
type Request struct {
	sdr.Tag
	Model       string
	Kind        string
	ContentType string
	Body        []byte
}

// Engine returns the detections a model finds in a request.
type Engine interface {
	Infer(ctx context.Context, req *Request) ([]sdr.Detection, error)
}

// Publisher receives every detection that passed the branch filters.
type Publisher interface {
	PublishDetection(ctx context.Context, d sdr.Detection) error
}

// LogPublisher logs detections.
type LogPublisher struct{}

func (LogPublisher) PublishDetection(_ context.Context, d sdr.Detection) error {
	glog.Infof("%s detection by %s in batch %d at %dHz: %s (%.2f)", d.Kind, d.Model, d.Seq, d.CenterFreq, d.Label, d.Confidence)
	return nil
}

// Stats counts the work done by a branch.
type Stats struct {
	Results    uint64
	Saved      uint64
	Inferences uint64
	Detections uint64
	Failures   uint64
}

// every reports whether the count-th result is selected when keeping one
// in n. n below 2 selects every result.
func every(count uint64, n int) bool {
	if n <= 1 {
		return true
	}
	return count%uint64(n) == 0
}

// infer calls engine and fills in the dwell context of every detection with
// at least minConfidence.
func infer(ctx context.Context, engine Engine, req *Request, res *sdr.Result, minConfidence float64) ([]sdr.Detection, error) {
	found, err := engine.Infer(ctx, req)
	if err != nil {
		return nil, err
	}
	var detections []sdr.Detection
	for _, d := range found {
		if d.Confidence < minConfidence {
			glog.V(3).Infof("dropping %s detection %q at %.2f, below %.2f", req.Kind, d.Label, d.Confidence, minConfidence)
			continue
		}
		d.Tag = res.Tag
		d.Model = req.Model
		d.Kind = req.Kind
		if d.FreqLow == 0 && d.FreqHigh == 0 {
			d.FreqLow, d.FreqHigh = res.FreqLow(), res.FreqHigh()
		}
		d.Time = res.End
		if d.Time.IsZero() {
			d.Time = time.Now()
		}
		detections = append(detections, d)
	}
	return detections, nil
}

func publish(ctx context.Context, publishers []Publisher, detections []sdr.Detection) {
	for _, d := range detections {
		for _, p := range publishers {
			if err := p.PublishDetection(ctx, d); err != nil {
				glog.Warningf("unable to publish detection %q of batch %d: %s", d.Label, d.Seq, err)
			}
		}
	}
}
