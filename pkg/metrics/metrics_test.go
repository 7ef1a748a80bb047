package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMetricsExposition(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(config.MetricsConfig{Namespace: "hl"})

	m.ConnOpened("host")
	m.ConnOpened("client")
	m.ConnClosed("client")
	m.RPCDone("host", "SEND_LOG", time.Now(), nil)
	m.RPCDone("client", "REQUEST_PAGE", time.Now(), errors.New("x"))
	m.TransactionTransition("RUNNING")
	m.RateLimited("host", "max")
	m.ScheduleRun("SUCCESS")
	m.TaskFailed("notify")

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `hl_connections{kind="host"} 1`)
	assert.Contains(t, body, `hl_rpc_calls_total{kind="client",method="REQUEST_PAGE",outcome="error"} 1`)
	assert.Contains(t, body, `hl_http_requests_total{method="GET",route="/ping",status="200"} 1`)
	assert.Contains(t, body, `hl_background_task_failures_total{task="notify"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnOpened("host")
		m.RPCDone("host", "X", time.Now(), nil)
		m.TaskFailed("x")
	})
}
