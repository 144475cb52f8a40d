package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/will7455/shieldy"

var (
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shieldy_errors_total",
			Help: "Reported failures by operation",
		},
		[]string{"op"},
	)

	candidatesAdmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shieldy_candidates_admitted_total",
			Help: "Candidates created on join by challenge kind",
		},
		[]string{"kind"},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shieldy_verifications_total",
			Help: "Candidates that passed verification by gate",
		},
		[]string{"gate"},
	)

	kicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shieldy_kicks_total",
			Help: "Kicked members by reason",
		},
		[]string{"reason"},
	)

	pendingCandidates = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shieldy_pending_candidates",
		Help: "Candidates pending verification after the last sweep",
	})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shieldy_sweep_duration_seconds",
		Help:    "Time spent in one expiry sweep",
		Buckets: prometheus.DefBuckets,
	})

	registerOnce sync.Once
)

// MustRegister registers the collectors once, later calls are no-ops.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			errorsTotal,
			candidatesAdmittedTotal,
			verificationsTotal,
			kicksTotal,
			pendingCandidates,
			sweepDuration,
		)
	})
}

// Report is the sink for non fatal failures: it logs and counts them.
func Report(entry *log.Entry, op string, err error) {
	if err == nil {
		return
	}
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	errorsTotal.WithLabelValues(op).Inc()
	entry.WithFields(log.Fields{"op": op, "error": err.Error()}).Error("operation failed")
}

func RecordAdmission(kind string) {
	candidatesAdmittedTotal.WithLabelValues(kind).Inc()
}

func RecordVerification(gate string) {
	verificationsTotal.WithLabelValues(gate).Inc()
}

func RecordKick(reason string) {
	kicksTotal.WithLabelValues(reason).Inc()
}

func SetPendingCandidates(n int) {
	pendingCandidates.Set(float64(n))
}

// StartSweep returns a function observing the sweep duration.
func StartSweep() func() {
	timer := prometheus.NewTimer(sweepDuration)
	return func() {
		timer.ObserveDuration()
	}
}

func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTracing installs an SDK tracer provider and returns its shutdown func.
func InitTracing() func(ctx context.Context) error {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// MetricsServer exposes /metrics and follows the Start/Stop component contract.
type MetricsServer struct {
	addr string
	srv  *http.Server
	wg   sync.WaitGroup
	mu   sync.Mutex
}

func NewMetricsServer(addr string) *MetricsServer {
	return &MetricsServer{addr: addr}
}

func (m *MetricsServer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addr == "" || m.srv != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.srv = &http.Server{
		Addr:              m.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Second,
	}

	srv := m.srv
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("error", err.Error()).Error("metrics server failed")
		}
	}()
	return nil
}

func (m *MetricsServer) Stop(ctx context.Context) error {
	m.mu.Lock()
	srv := m.srv
	m.srv = nil
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	m.wg.Wait()
	return err
}
