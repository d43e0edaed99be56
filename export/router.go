package export

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/filter"
	"github.com/hb9tf/scanner/sdr"
)

const dropLogEvery = 100

// Sink is one output of the router.
type Sink struct {
	Name     string
	Exporter Exporter
	// Filters drop results the sink is not interested in.
	Filters []filter.Filterer
}

// SinkStats reports what happened to the results offered to one sink.
type SinkStats struct {
	Sink     string
	Sent     uint64
	Dropped  uint64
	Filtered uint64
	Failed   bool
	Err      error
}

// Router hands every result to every sink without ever waiting for one.
// Each sink has its own buffer and goroutine: a slow sink loses results once
// its buffer is full and a failed sink loses all further results, while the
// other sinks carry on.
type Router struct {
	buffer int
	routes []*route
}

type route struct {
	Sink
	ch   chan sdr.Result
	done chan struct{}

	sent     atomic.Uint64
	dropped  atomic.Uint64
	filtered atomic.Uint64

	mu  sync.Mutex
	err error
}

func NewRouter(buffer int, sinks ...Sink) *Router {
	if buffer < 1 {
		buffer = 1
	}
	r := &Router{buffer: buffer}
	for _, s := range sinks {
		r.routes = append(r.routes, &route{
			Sink: s,
			ch:   make(chan sdr.Result, buffer),
			done: make(chan struct{}),
		})
	}
	return r
}

// Run distributes results from in until it is closed, then waits for every
// sink to drain. Sink failures are reported through Stats, never returned.
func (r *Router) Run(ctx context.Context, in <-chan sdr.Result) error {
	var wg sync.WaitGroup
	for _, rt := range r.routes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := rt.Exporter.Write(ctx, rt.ch)
			close(rt.done)
			if err != nil {
				rt.fail(&sdr.SinkFailure{Sink: rt.Name, Err: err})
			}
		}()
	}

	for res := range in {
		for _, rt := range r.routes {
			rt.offer(res)
		}
	}
	for _, rt := range r.routes {
		close(rt.ch)
	}
	wg.Wait()

	for _, s := range r.Stats() {
		glog.Infof("sink %s: sent %d, dropped %d, filtered %d, failed %t", s.Sink, s.Sent, s.Dropped, s.Filtered, s.Failed)
	}
	return nil
}

func (rt *route) offer(res sdr.Result) {
	if filter.Ignore(&res, rt.Filters) {
		rt.filtered.Add(1)
		return
	}
	select {
	case <-rt.done:
		rt.drop("sink stopped")
		return
	default:
	}
	select {
	case rt.ch <- res:
		rt.sent.Add(1)
	default:
		rt.drop("buffer full")
	}
}

func (rt *route) drop(reason string) {
	if n := rt.dropped.Add(1); n == 1 || n%dropLogEvery == 0 {
		glog.Warningf("sink %s: dropped %d results (%s)", rt.Name, n, reason)
	}
}

func (rt *route) fail(err error) {
	rt.mu.Lock()
	rt.err = err
	rt.mu.Unlock()
	glog.Errorf("%s", err)
}

// Stats returns a snapshot of every sink's counters.
func (r *Router) Stats() []SinkStats {
	var stats []SinkStats
	for _, rt := range r.routes {
		rt.mu.Lock()
		err := rt.err
		rt.mu.Unlock()
		stats = append(stats, SinkStats{
			Sink:     rt.Name,
			Sent:     rt.sent.Load(),
			Dropped:  rt.dropped.Load(),
			Filtered: rt.filtered.Load(),
			Failed:   err != nil,
			Err:      err,
		})
	}
	return stats
}
