package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	prometheusclient "github.com/prometheus/client_golang/prometheus"
)

const (
	exitStatusFailure = "failure"
	exitStatusSuccess = "success"
)

var (
	operationCounter    *prometheusclient.CounterVec
	operationDuration   *prometheusclient.HistogramVec
	replayedRecords     prometheusclient.Counter
	replayFailures      prometheusclient.Counter
	activeSessions      prometheusclient.Gauge
	requestCounter      *prometheusclient.CounterVec
	timeToHandleRequest *prometheusclient.HistogramVec
)

func init() {
	// metrics are usable before registration so packages can be tested in isolation
	newCollectors()
}

func newCollectors() {
	operationCounter = prometheusclient.NewCounterVec(
		prometheusclient.CounterOpts{
			Name: "journal_operations_total",
			Help: "Total number of journal operations processed.",
		},
		[]string{"operation", "exitStatus"},
	)

	operationDuration = prometheusclient.NewHistogramVec(prometheusclient.HistogramOpts{
		Name:    "journal_operation_duration_ms",
		Help:    "The time taken to process a journal operation.",
		Buckets: prometheusclient.ExponentialBuckets(1, 2, 11),
	}, []string{"operation"})

	replayedRecords = prometheusclient.NewCounter(
		prometheusclient.CounterOpts{
			Name: "journal_replayed_records_total",
			Help: "Total number of records re-executed during replay.",
		},
	)

	replayFailures = prometheusclient.NewCounter(
		prometheusclient.CounterOpts{
			Name: "journal_replay_failures_total",
			Help: "Total number of replays which stopped before the end of the suffix.",
		},
	)

	activeSessions = prometheusclient.NewGauge(
		prometheusclient.GaugeOpts{
			Name: "journal_active_sessions",
			Help: "Number of journal sessions currently held in memory.",
		},
	)

	requestCounter = prometheusclient.NewCounterVec(
		prometheusclient.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of requests handled by the server.",
		},
		[]string{"route", "code"},
	)

	timeToHandleRequest = prometheusclient.NewHistogramVec(prometheusclient.HistogramOpts{
		Name:    "http_request_duration_ms",
		Help:    "The time taken to handle a request.",
		Buckets: prometheusclient.ExponentialBuckets(1, 2, 11),
	}, []string{"route"})
}

func collectors() []prometheusclient.Collector {
	return []prometheusclient.Collector{
		operationCounter,
		operationDuration,
		replayedRecords,
		replayFailures,
		activeSessions,
		requestCounter,
		timeToHandleRequest,
	}
}

func Register() {
	RegisterOn(prometheusclient.DefaultRegisterer)
}

func RegisterOn(registerer prometheusclient.Registerer) {
	registerer.MustRegister(collectors()...)
}

func UnRegister() {
	UnRegisterFrom(prometheusclient.DefaultRegisterer)
}

func UnRegisterFrom(registerer prometheusclient.Registerer) {
	for _, c := range collectors() {
		registerer.Unregister(c)
	}
}

// ObserveOperation records the outcome and duration of a journal operation.
func ObserveOperation(operation string, start time.Time, err error) {
	exitStatus := exitStatusSuccess
	if err != nil {
		exitStatus = exitStatusFailure
	}

	operationCounter.WithLabelValues(operation, exitStatus).Inc()
	operationDuration.WithLabelValues(operation).
		Observe(float64(time.Since(start).Nanoseconds() / int64(time.Millisecond)))
}

func RecordReplayed(n int) {
	replayedRecords.Add(float64(n))
}

func RecordReplayFailure() {
	replayFailures.Inc()
}

func SessionOpened() {
	activeSessions.Inc()
}

func SessionClosed() {
	activeSessions.Dec()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware counts requests by chi route pattern and response code.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if len(rctx.RoutePatterns) > 0 {
				route = strings.Replace(strings.Join(rctx.RoutePatterns, ""), "/*/", "/", -1)
			}
		}

		requestCounter.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		timeToHandleRequest.WithLabelValues(route).
			Observe(float64(time.Since(start).Nanoseconds() / int64(time.Millisecond)))
	})
}
