package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"danmud/internal/manager"
	"danmud/pkg/types"
)

func TestMetrics_ForwardErrorsCountedByStatus(t *testing.T) {
	before := testutil.ToFloat64(forwardErrorsTotal.WithLabelValues("503"))
	svc := &mockService{routeErr: manager.ErrServiceUnavailable("no ready generation")}
	serve(NewMux(svc), httptest.NewRequest(http.MethodGet, "/api/v2/search", nil))
	serve(NewMux(svc), httptest.NewRequest(http.MethodGet, "/api/v2/comment/9", nil))
	if got := testutil.ToFloat64(forwardErrorsTotal.WithLabelValues("503")) - before; got != 2 {
		t.Fatalf("forward_errors_total{status=503} delta=%v want 2", got)
	}
}

func TestMetrics_WorkerStatusIsNotAForwardError(t *testing.T) {
	before := testutil.ToFloat64(forwardErrorsTotal.WithLabelValues("404"))
	reqBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/*", http.MethodGet, "404"))
	svc := &mockService{resp: types.Response{Status: 404}}
	w := serve(NewMux(svc), httptest.NewRequest(http.MethodGet, "/api/v2/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	if got := testutil.ToFloat64(forwardErrorsTotal.WithLabelValues("404")) - before; got != 0 {
		t.Fatalf("worker 404 counted as forward error: %v", got)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/*", http.MethodGet, "404")) - reqBefore; got != 1 {
		t.Fatalf("requests_total{path=/*,status=404} delta=%v", got)
	}
}
