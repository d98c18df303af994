// Package metrics provides Prometheus instrumentation for the game API.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tinyassets/internal/rules"
)

var (
	DaysExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyassets_days_executed_total",
		Help: "Executed days by midday action",
	}, []string{"action"})

	EventsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyassets_events_total",
		Help: "Market events that fired, by category and name",
	}, []string{"category", "name"})

	ProductionTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinyassets_production_tokens_total",
		Help: "Tokens paid out by daily asset production",
	})

	Trades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyassets_trades_total",
		Help: "Buy and sell transactions by asset",
	}, []string{"type", "asset"})

	Unlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyassets_unlocks_total",
		Help: "Badges earned and missions completed",
	}, []string{"kind"})

	MissionsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyassets_missions_claimed_total",
		Help: "Mission rewards claimed",
	}, []string{"mission"})

	LevelUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinyassets_level_ups_total",
		Help: "Days that ended with a level up",
	})

	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinyassets_feed_clients",
		Help: "Connected live feed websocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyassets_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tinyassets_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Recorder feeds gameplay outcomes into the counters above.
type Recorder struct{}

func (Recorder) DayExecuted(out rules.DayOutcome) {
	DaysExecuted.WithLabelValues(string(out.Action.Type)).Inc()
	ProductionTokens.Add(float64(out.ProductionEarned))
	if out.EventRecord != nil {
		EventsTriggered.WithLabelValues(string(out.EventRecord.Category), out.EventRecord.Name).Inc()
	}
	if out.XP.LeveledUp {
		LevelUps.Inc()
	}
}

func (Recorder) TradeApplied(tx rules.Transaction) {
	Trades.WithLabelValues(string(tx.Type), string(tx.Asset)).Inc()
}

func (Recorder) Unlocked(u rules.Unlocks) {
	if n := len(u.Badges); n > 0 {
		Unlocks.WithLabelValues(string(rules.KindBadge)).Add(float64(n))
	}
	if n := len(u.Missions); n > 0 {
		Unlocks.WithLabelValues(string(rules.KindMission)).Add(float64(n))
	}
}

func (Recorder) MissionClaimed(definitionID string) {
	MissionsClaimed.WithLabelValues(definitionID).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labeled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack keeps websocket upgrades working behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
