package inference

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/scanner/sdr"
)

type fakeEngine struct {
	mu       sync.Mutex
	requests []*Request
	found    []sdr.Detection
	err      error
}

func (f *fakeEngine) Infer(_ context.Context, req *Request) ([]sdr.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body := append([]byte(nil), req.Body...)
	r := *req
	r.Body = body
	f.requests = append(f.requests, &r)
	return append([]sdr.Detection(nil), f.found...), f.err
}

type recordingPublisher struct {
	detections []sdr.Detection
}

func (p *recordingPublisher) PublishDetection(_ context.Context, d sdr.Detection) error {
	p.detections = append(p.detections, d)
	return nil
}

type failingPublisher struct{}

func (failingPublisher) PublishDetection(context.Context, sdr.Detection) error {
	return errors.New("broker gone")
}

func dwell(seq uint64, peak float64) sdr.Result {
	rows := [][]float64{
		{-90, -90, peak, -90},
		{-90, -90, peak, -90},
	}
	return sdr.Result{
		Tag:           sdr.Tag{Seq: seq, CenterFreq: 100000000},
		SampleRate:    4000000,
		TransformSize: 4,
		Start:         time.Unix(1700000000, 0),
		End:           time.Unix(1700000001, 0),
		Mean:          []float64{-90, -90, peak, -90},
		Max:           []float64{-90, -90, peak, -90},
		Min:           []float64{-90, -90, peak, -90},
		Rows:          rows,
		IQ:            []complex64{complex(0.5, -0.5), complex(0.25, 0)},
	}
}

func feed(results ...sdr.Result) <-chan sdr.Result {
	ch := make(chan sdr.Result, len(results))
	for _, r := range results {
		ch <- r
	}
	close(ch)
	return ch
}

func TestHTTPEngine(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode([]Prediction{
			{Label: "wifi", Confidence: 0.9, Box: []float64{10, 0, 20, 640}},
			{Label: "noise", Confidence: 0.2},
		})
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL + "/")
	detections, err := e.Infer(context.Background(), &Request{Model: "mini2_snr", ContentType: pngContentType, Body: []byte("img")})
	require.NoError(t, err)
	assert.Equal(t, "/predictions/mini2_snr", gotPath)
	assert.Equal(t, pngContentType, gotType)
	assert.Equal(t, []byte("img"), gotBody)
	require.Len(t, detections, 2)
	assert.Equal(t, "wifi", detections[0].Label)
	assert.Equal(t, 0.9, detections[0].Confidence)
	assert.Equal(t, []float64{10, 0, 20, 640}, detections[0].Box)
}

func TestHTTPEngineErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/predictions/broken" {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL)
	_, err := e.Infer(context.Background(), &Request{Model: "broken"})
	assert.ErrorContains(t, err, "model not loaded")
	_, err = e.Infer(context.Background(), &Request{Model: "garbled"})
	assert.ErrorContains(t, err, "unable to parse")
}

func TestNewHTTPEngineAddsScheme(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", NewHTTPEngine("localhost:8080").Server)
	assert.Equal(t, "https://models", NewHTTPEngine("https://models/").Server)
}

func TestImageExporter(t *testing.T) {
	dir := t.TempDir()
	engine := &fakeEngine{found: []sdr.Detection{
		{Label: "wifi", Confidence: 0.9, Box: []float64{320, 0, 480, 640}},
		{Label: "noise", Confidence: 0.1},
	}}
	pub := &recordingPublisher{}
	e := &ImageExporter{
		Engine:        engine,
		Model:         "mini2_snr",
		OutputDir:     filepath.Join(dir, "images"),
		NImage:        2,
		NInference:    1,
		MinConfidence: 0.5,
		MinDB:         -50,
		TextColor:     color.White,
		Publishers:    []Publisher{pub, failingPublisher{}},
	}
	results := feed(dwell(1, -10), dwell(2, -10), dwell(3, -80), dwell(4, -10))
	require.NoError(t, e.Write(context.Background(), results))

	stats := e.Stats()
	assert.Equal(t, uint64(4), stats.Results)
	assert.Equal(t, uint64(3), stats.Inferences)
	assert.Equal(t, uint64(3), stats.Detections)

	// Every second image is kept, the quiet dwell is skipped entirely.
	files, err := os.ReadDir(filepath.Join(dir, "images"))
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, uint64(2), stats.Saved)

	require.Len(t, engine.requests, 3)
	assert.Equal(t, KindImage, engine.requests[0].Kind)
	assert.Equal(t, pngContentType, engine.requests[0].ContentType)
	assert.Equal(t, []byte("\x89PNG"), engine.requests[0].Body[:4])

	require.Len(t, pub.detections, 3)
	d := pub.detections[0]
	assert.Equal(t, "wifi", d.Label)
	assert.Equal(t, "mini2_snr", d.Model)
	assert.Equal(t, uint64(1), d.Seq)
	assert.Equal(t, uint64(100000000), d.FreqLow)
	assert.Equal(t, uint64(101000000), d.FreqHigh)
	assert.Equal(t, time.Unix(1700000001, 0), d.Time)
}

func TestImageExporterSkipsResultsWithoutRows(t *testing.T) {
	engine := &fakeEngine{}
	e := &ImageExporter{Engine: engine, Model: "m", MinDB: -200}
	res := dwell(1, 0)
	res.Rows = nil
	require.NoError(t, e.Write(context.Background(), feed(res)))
	assert.Empty(t, engine.requests)
	assert.Equal(t, uint64(0), e.Stats().Results)
}

func TestImageExporterInferenceFailureIsNotFatal(t *testing.T) {
	engine := &fakeEngine{err: errors.New("timeout")}
	e := &ImageExporter{Engine: engine, Model: "m", MinDB: -200}
	require.NoError(t, e.Write(context.Background(), feed(dwell(1, 0), dwell(2, 0))))
	assert.Equal(t, uint64(2), e.Stats().Failures)
}

func TestImage(t *testing.T) {
	e := &ImageExporter{}
	res := dwell(1, 0)
	img := e.Image(&res)
	assert.Equal(t, DefaultImageWidth, img.Bounds().Dx())
	assert.Equal(t, DefaultImageHeight, img.Bounds().Dy())
	// The strongest bin is the third quarter of the image.
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(400, 600))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(100, 600))
}

func TestIQExporter(t *testing.T) {
	engine := &fakeEngine{found: []sdr.Detection{{Label: "lora", Confidence: 0.7}}}
	pub := &recordingPublisher{}
	e := &IQExporter{
		Engine:        engine,
		Model:         "iq_model",
		Format:        sdr.FormatCI16,
		NInference:    2,
		MinConfidence: 0.5,
		MinDB:         -200,
		Publishers:    []Publisher{pub},
	}
	noIQ := dwell(5, 0)
	noIQ.IQ = nil
	require.NoError(t, e.Write(context.Background(), feed(dwell(1, 0), dwell(2, 0), noIQ, dwell(3, 0), dwell(4, 0))))

	require.Len(t, engine.requests, 2)
	assert.Equal(t, uint64(2), engine.requests[0].Seq)
	assert.Equal(t, uint64(4), engine.requests[1].Seq)
	assert.Equal(t, KindIQ, engine.requests[0].Kind)
	assert.Len(t, engine.requests[0].Body, 8)

	require.Len(t, pub.detections, 2)
	assert.Equal(t, KindIQ, pub.detections[0].Kind)
	assert.Equal(t, uint64(98000000), pub.detections[0].FreqLow)
	assert.Equal(t, uint64(102000000), pub.detections[0].FreqHigh)
}

func TestEvery(t *testing.T) {
	assert.True(t, every(1, 0))
	assert.True(t, every(3, 1))
	assert.False(t, every(3, 2))
	assert.True(t, every(4, 2))
}
