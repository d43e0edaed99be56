package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/scanner/filter"
	"github.com/hb9tf/scanner/sdr"
)

type collectSink struct {
	mu  sync.Mutex
	got []sdr.Result
	ack chan struct{}
}

func (c *collectSink) Write(_ context.Context, results <-chan sdr.Result) error {
	for r := range results {
		c.mu.Lock()
		c.got = append(c.got, r)
		c.mu.Unlock()
		if c.ack != nil {
			c.ack <- struct{}{}
		}
	}
	return nil
}

type blockedSink struct {
	release chan struct{}
	got     int
}

func (b *blockedSink) Write(_ context.Context, results <-chan sdr.Result) error {
	<-b.release
	for range results {
		b.got++
	}
	return nil
}

type failingSink struct{}

func (failingSink) Write(context.Context, <-chan sdr.Result) error {
	return errors.New("disk full")
}

func testResult(seq uint64, peak float64) sdr.Result {
	return sdr.Result{
		Tag:           sdr.Tag{Seq: seq, CenterFreq: 100000000},
		SampleRate:    2000000,
		TransformSize: 2,
		Frames:        1,
		Mean:          []float64{peak, peak},
		Max:           []float64{peak, peak},
		Min:           []float64{peak, peak},
	}
}

func TestRouterIsolatesSinks(t *testing.T) {
	fast := &collectSink{ack: make(chan struct{}, 1)}
	slow := &blockedSink{release: make(chan struct{})}
	r := NewRouter(4,
		Sink{Name: "fast", Exporter: fast},
		Sink{Name: "slow", Exporter: slow},
		Sink{Name: "broken", Exporter: failingSink{}},
	)

	in := make(chan sdr.Result)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), in) }()

	require.Eventually(t, func() bool { return r.Stats()[2].Failed }, 5*time.Second, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		in <- testResult(uint64(i), -10)
		<-fast.ack
	}
	close(in)
	close(slow.release)
	require.NoError(t, <-done)

	stats := r.Stats()
	assert.Equal(t, SinkStats{Sink: "fast", Sent: 10}, stats[0])
	assert.Equal(t, uint64(4), stats[1].Sent)
	assert.Equal(t, uint64(6), stats[1].Dropped)
	assert.Equal(t, 4, slow.got)
	assert.Equal(t, uint64(0), stats[2].Sent)
	assert.Equal(t, uint64(10), stats[2].Dropped)

	var sf *sdr.SinkFailure
	require.True(t, errors.As(stats[2].Err, &sf))
	assert.Equal(t, "broken", sf.Sink)

	// Results arrive in order and keep their tags.
	for i, res := range fast.got {
		assert.Equal(t, uint64(i), res.Seq)
	}
}

func TestRouterFilters(t *testing.T) {
	sink := &collectSink{}
	r := NewRouter(8, Sink{Name: "loud", Exporter: sink, Filters: []filter.Filterer{&filter.FilterPower{MinDB: -50}}})

	in := make(chan sdr.Result, 3)
	in <- testResult(0, -80)
	in <- testResult(1, -20)
	in <- testResult(2, -90)
	close(in)
	require.NoError(t, r.Run(context.Background(), in))

	require.Len(t, sink.got, 1)
	assert.Equal(t, uint64(1), sink.got[0].Seq)
	assert.Equal(t, uint64(2), r.Stats()[0].Filtered)
}

func TestRouterWithoutSinks(t *testing.T) {
	in := make(chan sdr.Result, 1)
	in <- testResult(0, 0)
	close(in)
	assert.NoError(t, NewRouter(1).Run(context.Background(), in))
}
