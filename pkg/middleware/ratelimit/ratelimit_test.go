package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(l *Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/bookings", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusCreated) })
	return r
}

func doRequest(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/bookings", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLimiterRejectsAfterBurst(t *testing.T) {
	l := New(1, 2, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	r := newRouter(l)

	assert.Equal(t, http.StatusCreated, doRequest(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusCreated, doRequest(r, "10.0.0.1").Code)

	w := doRequest(r, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")

	assert.Equal(t, http.StatusCreated, doRequest(r, "10.0.0.2").Code, "other clients keep their own bucket")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusCreated, doRequest(r, "10.0.0.1").Code)
}

func TestLimiterDisabledWithZeroRate(t *testing.T) {
	l := New(0, 1, nil)
	r := newRouter(l)
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusCreated, doRequest(r, "10.0.0.1").Code)
	}
}

func TestLimiterSweepDropsIdleVisitors(t *testing.T) {
	l := New(1, 1, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.get("a")
	now = now.Add(idleTTL + time.Minute)
	l.get("b")

	assert.Equal(t, 1, l.Sweep())
	assert.Len(t, l.visitors, 1)
}
