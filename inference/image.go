package inference

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/extraction"
	"github.com/hb9tf/scanner/sdr"
)

const (
	DefaultImageWidth  = 640
	DefaultImageHeight = 640

	pngContentType = "image/png"
)

// ImageExporter renders the per-frame rows of every dwell as a spectrogram,
// keeps every NImage-th image in OutputDir and sends every NInference-th to
// the model.
type ImageExporter struct {
	Engine        Engine
	Model         string
	OutputDir     string
	NImage        int
	NInference    int
	MinConfidence float64
	// MinDB skips dwells whose strongest bin is below it.
	MinDB float64
	// TextColor labels images with the dwell frequency when set.
	TextColor  color.Color
	Width      int
	Height     int
	Publishers []Publisher

	mu    sync.Mutex
	stats Stats
}

func (e *ImageExporter) Write(ctx context.Context, results <-chan sdr.Result) error {
	if e.OutputDir != "" {
		if err := os.MkdirAll(e.OutputDir, 0o755); err != nil {
			return fmt.Errorf("unable to create image directory: %w", err)
		}
	}
	var count uint64
	for res := range results {
		if len(res.Rows) == 0 {
			continue
		}
		count++
		e.add(func(s *Stats) { s.Results++ })
		if peak := res.PeakDB(); peak < e.MinDB {
			glog.V(3).Infof("skipping image of batch %d: peak %.1fdB below %.1fdB", res.Seq, peak, e.MinDB)
			continue
		}

		img := e.Image(&res)
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("unable to encode image: %w", err)
		}

		if e.OutputDir != "" && every(count, e.NImage) {
			path := filepath.Join(e.OutputDir, fmt.Sprintf("image_%d_%d_%dHz.png", res.Start.UnixMilli(), res.Seq, res.CenterFreq))
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				glog.Warningf("unable to save image %s: %s", path, err)
			} else {
				e.add(func(s *Stats) { s.Saved++ })
			}
		}

		if !every(count, e.NInference) {
			continue
		}
		req := &Request{
			Tag:         res.Tag,
			Model:       e.Model,
			Kind:        KindImage,
			ContentType: pngContentType,
			Body:        buf.Bytes(),
		}
		e.add(func(s *Stats) { s.Inferences++ })
		detections, err := infer(ctx, e.Engine, req, &res, e.MinConfidence)
		if err != nil {
			glog.Warningf("image inference of batch %d failed: %s", res.Seq, err)
			e.add(func(s *Stats) { s.Failures++ })
			continue
		}
		bounds := img.Bounds()
		for i := range detections {
			boxFreqs(&detections[i], &res, bounds.Dx())
		}
		e.add(func(s *Stats) { s.Detections += uint64(len(detections)) })
		publish(ctx, e.Publishers, detections)
	}
	return nil
}

// Image renders res as sent to the model.
func (e *ImageExporter) Image(res *sdr.Result) *image.RGBA {
	width, height := e.Width, e.Height
	if width <= 0 {
		width = DefaultImageWidth
	}
	if height <= 0 {
		height = DefaultImageHeight
	}
	img := extraction.Spectrogram(res.Rows, width, height, 0, 0)
	if e.TextColor != nil {
		extraction.DrawLabel(img, 5, 15, extraction.GetReadableFreq(res.CenterFreq), e.TextColor)
	}
	return img
}

func (e *ImageExporter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *ImageExporter) add(f func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&e.stats)
}

// boxFreqs maps the horizontal extent of a bounding box onto the band of res.
func boxFreqs(d *sdr.Detection, res *sdr.Result, width int) {
	if len(d.Box) != 4 || width <= 0 {
		return
	}
	low, high := res.FreqLow(), res.FreqHigh()
	span := float64(high - low)
	at := func(x float64) uint64 {
		x = min(max(x, 0), float64(width))
		return low + uint64(x/float64(width)*span)
	}
	d.FreqLow, d.FreqHigh = at(min(d.Box[0], d.Box[2])), at(max(d.Box[0], d.Box[2]))
}
