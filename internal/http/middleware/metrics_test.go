package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersAndPathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/users", func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.POST("/presence/heartbeat", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/users", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))
	base204 := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/presence/heartbeat", "204"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/users", nil),
		httptest.NewRequest(http.MethodGet, "/nope", nil),
		httptest.NewRequest(http.MethodPost, "/presence/heartbeat", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/users", "200")); got != baseOK+1 {
		t.Fatalf("counter /users 200 = %v; want %v", got, baseOK+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404")); got != base404+1 {
		t.Fatalf("counter 404 fallback = %v; want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/presence/heartbeat", "204")); got != base204+1 {
		t.Fatalf("counter heartbeat 204 = %v; want %v", got, base204+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}

func TestMetrics_StreamingRoutesSkipHistograms(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics("/stream-only"))
	r.GET("/stream-only", func(c *gin.Context) { c.String(http.StatusOK, "data: x\n\n") })

	baseLat := testutil.CollectAndCount(httpLat, "http_request_duration_seconds")
	base := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/stream-only", "200"))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stream-only", nil))

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/stream-only", "200")); got != base+1 {
		t.Fatalf("stream request not counted: %v", got)
	}
	if got := testutil.CollectAndCount(httpLat, "http_request_duration_seconds"); got != baseLat {
		t.Fatalf("latency series grew for streaming route: %d -> %d", baseLat, got)
	}
}
