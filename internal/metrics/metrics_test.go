package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOperation(t *testing.T) {
	before := testutil.ToFloat64(operationsTotal.WithLabelValues("getattr", "error"))
	RecordOperation("getattr", errors.New("boom"))
	after := testutil.ToFloat64(operationsTotal.WithLabelValues("getattr", "error"))
	if after-before != 1 {
		t.Errorf("expected error counter to grow by 1, grew by %v", after-before)
	}
}

func TestRecordFetch(t *testing.T) {
	bytesBefore := testutil.ToFloat64(objectFetchBytes)
	okBefore := testutil.ToFloat64(objectFetchesTotal.WithLabelValues("ok"))

	RecordFetch(128, nil)
	RecordFetch(0, errors.New("missing"))

	if got := testutil.ToFloat64(objectFetchBytes) - bytesBefore; got != 128 {
		t.Errorf("fetched bytes grew by %v, want 128", got)
	}
	if got := testutil.ToFloat64(objectFetchesTotal.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Errorf("ok fetches grew by %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	SetOpenHandles(3)
	SetCacheSize(2, 10)
	SetTreeSize(4, 7)

	if got := testutil.ToFloat64(openHandles); got != 3 {
		t.Errorf("open handles = %v, want 3", got)
	}
	if got := testutil.ToFloat64(cachedBytes); got != 10 {
		t.Errorf("cached bytes = %v, want 10", got)
	}
	if got := testutil.ToFloat64(treeNodes.WithLabelValues("file")); got != 7 {
		t.Errorf("file nodes = %v, want 7", got)
	}
}

func TestHandler(t *testing.T) {
	RecordCacheHit()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gitindexfs_cache_hits_total") {
		t.Error("expected gitindexfs_cache_hits_total in metrics output")
	}
}
