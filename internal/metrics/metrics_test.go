package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tinyassets/internal/rules"
)

func TestRecorderCounts(t *testing.T) {
	var r Recorder
	before := testutil.ToFloat64(Trades.WithLabelValues("buy", "gold"))
	r.TradeApplied(rules.Transaction{Type: rules.TxBuy, Asset: rules.AssetGold})
	if got := testutil.ToFloat64(Trades.WithLabelValues("buy", "gold")); got != before+1 {
		t.Fatalf("trades got %v want %v", got, before+1)
	}

	evBefore := testutil.ToFloat64(EventsTriggered.WithLabelValues("crisis", "War News"))
	prodBefore := testutil.ToFloat64(ProductionTokens)
	r.DayExecuted(rules.DayOutcome{
		Action:           rules.Hold(),
		ProductionEarned: 3,
		EventRecord:      &rules.EventRecord{Name: "War News", Category: rules.CategoryCrisis},
	})
	if got := testutil.ToFloat64(EventsTriggered.WithLabelValues("crisis", "War News")); got != evBefore+1 {
		t.Fatalf("events got %v", got)
	}
	if got := testutil.ToFloat64(ProductionTokens); got != prodBefore+3 {
		t.Fatalf("production got %v", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/missions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/missions/{id}", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/missions/first-share", nil))
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/missions/{id}", "418")); got != before+1 {
		t.Fatalf("request counter got %v want %v", got, before+1)
	}
}
