package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservabilityConfig struct {
	ServiceName string
	// Namespace prefixes every HTTP metric name. Defaults to escrow_http.
	Namespace   string
	LogRequests bool
	Enabled     bool
}

// Observability traces and counts requests to the escrow API on its own
// Prometheus registry.
type Observability struct {
	cfg      ObservabilityConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inflight *prometheus.GaugeVec
}

func NewObservability(cfg ObservabilityConfig, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "escrowd"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "escrow_http"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Observability{
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(cfg.ServiceName + "/http"),
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Escrow API requests by route, HTTP method and status.",
		}, []string{"route", "method", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Escrow API request latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route"}),
		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_in_flight",
			Help:      "Escrow API requests currently being served.",
		}, []string{"route"}),
	}
}

// Middleware instruments every request under the given route label.
func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !o.cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			o.inflight.WithLabelValues(route).Inc()
			defer o.inflight.WithLabelValues(route).Dec()

			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), "escrow."+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String("http.method", r.Method), attribute.String("http.route", route)))
			defer span.End()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := responseStatus(ww, r)
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			elapsed := time.Since(start)
			o.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			o.latency.WithLabelValues(route).Observe(elapsed.Seconds())
			if o.cfg.LogRequests {
				o.logger.Info("http request", "route", route, "method", r.Method, "status", status,
					"bytes", ww.BytesWritten(), "duration_ms", elapsed.Milliseconds())
			}
		})
	}
}

// responseStatus fills in what net/http implies when a handler never calls
// WriteHeader, including hijacked websocket upgrades.
func responseStatus(ww chimw.WrapResponseWriter, r *http.Request) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return http.StatusSwitchingProtocols
	}
	return http.StatusOK
}

func (o *Observability) Registry() *prometheus.Registry {
	return o.registry
}

func (o *Observability) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}
