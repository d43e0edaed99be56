// Command server accepts samples from scanners over HTTP and stores them.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"github.com/hb9tf/scanner/export"
	"github.com/hb9tf/scanner/sdr"
)

var (
	listen   = flag.String("listen", ":8443", "Address to listen on.")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	output   = flag.String("output", "", "Export mechanism to use (one of: sqlite, mysql)")
	queueLen = flag.Int("queue", 1000, "Samples queued for storage before requests block.")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/spectre", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "spectre", "Name of the DB to use.")
)

const (
	apiPrefix       = "/spectre/v1"
	collectEndpoint = "/collect"
	healthEndpoint  = "/healthz"
	statsEndpoint   = "/stats"
)

// Store persists samples; export.SQL and export.MySQL implement it.
type Store interface {
	Init(ctx context.Context) error
	Insert(ctx context.Context, sample sdr.Sample) error
}

// Stats is served on the stats endpoint.
type Stats struct {
	Received uint64    `json:"received"`
	Stored   uint64    `json:"stored"`
	Failed   uint64    `json:"failed"`
	Queued   int       `json:"queued"`
	Started  time.Time `json:"started"`
}

type SpectreServer struct {
	store   Store
	samples chan sdr.Sample
	started time.Time

	received atomic.Uint64
	stored   atomic.Uint64
	failed   atomic.Uint64
}

func NewSpectreServer(store Store, queue int) *SpectreServer {
	return &SpectreServer{
		store:   store,
		samples: make(chan sdr.Sample, max(queue, 1)),
		started: time.Now(),
	}
}

// Router returns the HTTP handler of the server.
func (s *SpectreServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	v1 := r.Group(apiPrefix)
	v1.POST(collectEndpoint, s.collectHandler)
	v1.GET(healthEndpoint, s.healthHandler)
	v1.GET(statsEndpoint, s.statsHandler)
	return r
}

func (s *SpectreServer) collectHandler(c *gin.Context) {
	samples := []sdr.Sample{}
	if err := c.ShouldBindJSON(&samples); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	for _, sample := range samples {
		select {
		case s.samples <- sample:
			s.received.Add(1)
		case <-c.Request.Context().Done():
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "request cancelled while queueing samples"})
			return
		}
	}
	c.JSON(http.StatusOK, export.CollectResponse{Status: "ok", SampleCount: len(samples)})
}

func (s *SpectreServer) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *SpectreServer) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.Stats())
}

func (s *SpectreServer) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Stored:   s.stored.Load(),
		Failed:   s.failed.Load(),
		Queued:   len(s.samples),
		Started:  s.started,
	}
}

// Store writes queued samples until the queue is closed.
func (s *SpectreServer) Store(ctx context.Context) error {
	if err := s.store.Init(ctx); err != nil {
		return err
	}
	for sample := range s.samples {
		if err := s.store.Insert(ctx, sample); err != nil {
			s.failed.Add(1)
			glog.Warningf("error storing sample: %s", err)
			continue
		}
		if n := s.stored.Add(1); n%10000 == 0 {
			glog.Infof("stored %d samples", n)
		}
	}
	return nil
}

// Close stops accepting samples; Store returns once the queue is drained.
func (s *SpectreServer) Close() {
	close(s.samples)
}

func openStore() (Store, *sql.DB) {
	switch strings.ToLower(*output) {
	case "sqlite":
		db, err := export.OpenSQLite(*sqliteFile)
		if err != nil {
			glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		return &export.SQL{DB: db}, db
	case "mysql":
		db, err := export.OpenMySQL(*mysqlServer, *mysqlUser, *mysqlPasswordFile, *mysqlDBName)
		if err != nil {
			glog.Exitf("unable to open MySQL DB %q: %s", *mysqlServer, err)
		}
		return &export.MySQL{DB: db}, db
	}
	glog.Exitf("%q is not a supported export method, pick one of: sqlite, mysql", *output)
	return nil, nil
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	store, db := openStore()
	defer db.Close()

	s := NewSpectreServer(store, *queueLen)
	stored := make(chan error, 1)
	go func() {
		stored <- s.Store(context.Background())
	}()

	server := &http.Server{
		Addr:    *listen,
		Handler: s.Router(),
	}
	shutdown := make(chan struct{})
	go func() {
		defer close(shutdown)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			glog.Warningf("unclean shutdown: %s", err)
		}
	}()

	var err error
	if *certFile != "" || *keyFile != "" {
		err = server.ListenAndServeTLS(*certFile, *keyFile)
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		err = server.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		// Handlers still queueing samples finish before Shutdown returns.
		<-shutdown
	} else {
		glog.Errorf("server stopped: %s", err)
	}

	s.Close()
	if err := <-stored; err != nil {
		glog.Errorf("storing samples failed: %s", err)
	}
	glog.Infof("final stats: %+v", s.Stats())
}
