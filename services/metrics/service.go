// Package metrics exposes run metrics as Prometheus collectors.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
)

const namespace = "kettle"

type Diagnostic interface {
	Listening(addr string)
	Error(msg string, err error)
}

type Service struct {
	c    Config
	diag Diagnostic

	registry     *prometheus.Registry
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	activeRuns   *prometheus.GaugeVec
	rows         *prometheus.CounterVec
	rowErrors    *prometheus.CounterVec
	duration     *prometheus.HistogramVec

	ln     net.Listener
	server *http.Server
}

func NewService(c Config, d Diagnostic) *Service {
	s := &Service{
		c:        c,
		diag:     d,
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Number of runs started.",
		}, []string{"pipeline"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Number of terminated runs by status.",
		}, []string{"pipeline", "status"}),
		activeRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of runs not terminated yet.",
		}, []string{"pipeline"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Number of rows read and written by the operations of terminated runs.",
		}, []string{"pipeline", "direction"}),
		rowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_errors_total",
			Help:      "Number of rows that failed processing.",
		}, []string{"pipeline"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Elapsed time of terminated runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"pipeline"}),
	}
	s.registry.MustRegister(
		s.runsStarted,
		s.runsFinished,
		s.activeRuns,
		s.rows,
		s.rowErrors,
		s.duration,
	)
	return s
}

func (s *Service) Open() error {
	if s.c.BindAddress == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.c.BindAddress)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.c.BindAddress)
	}
	mux := http.NewServeMux()
	mux.Handle(s.c.Path, s.Handler())
	s.ln = ln
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.diag.Listening(ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.diag.Error("metrics server failed", err)
		}
	}()
	return nil
}

func (s *Service) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

// Addr returns the address of the metrics listener, or nil.
func (s *Service) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Registry returns the registry holding the run collectors.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Service) RunStarted(pipeline string) {
	s.runsStarted.WithLabelValues(pipeline).Inc()
	s.activeRuns.WithLabelValues(pipeline).Inc()
}

func (s *Service) RunTerminated(r kettle.Result) {
	s.activeRuns.WithLabelValues(r.Pipeline).Dec()
	s.runsFinished.WithLabelValues(r.Pipeline, r.Status.String()).Inc()
	s.rows.WithLabelValues(r.Pipeline, "read").Add(float64(r.RowsRead))
	s.rows.WithLabelValues(r.Pipeline, "written").Add(float64(r.RowsWritten))
	s.rowErrors.WithLabelValues(r.Pipeline).Add(float64(r.Errors))
	s.duration.WithLabelValues(r.Pipeline).Observe(r.Elapsed.Seconds())
}
