package prompush

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel/internal/metrics"
)

func gathered(t *testing.T, b *Backend) map[string]float64 {
	t.Helper()

	mfs, err := b.Registry().Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestBackend_Collects(t *testing.T) {
	b, err := NewBackend("", "http://127.0.0.1:1")
	require.NoError(t, err)

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "stream", "status": "ok"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.2, metrics.Labels{"step": "stream", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "read"})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter("unknown_total", 1, nil)
	b.SetGauge(metrics.StageUsers, 600, metrics.Labels{"stage": "product_page"})
	b.SetGauge(metrics.StageDropOffRate, 40, metrics.Labels{"stage": "product_page"})
	b.SetGauge(metrics.StageUsers, 1, metrics.Labels{})

	got := gathered(t, b)
	assert.Equal(t, 1.0, got["funnel_step_total,status=ok,step=stream"])
	assert.Equal(t, 1.0, got["funnel_step_duration_seconds,status=ok,step=stream"])
	assert.Equal(t, 5.0, got["funnel_records_total,kind=read"])
	assert.Equal(t, 600.0, got["funnel_stage_users,stage=product_page"])
	assert.Equal(t, 40.0, got["funnel_stage_drop_off_rate,stage=product_page"])
	assert.Len(t, got, 5)
}

func TestBackend_FlushPushesToGateway(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("funnel_report", srv.URL)
	require.NoError(t, err)
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": "read"})

	require.NoError(t, b.Flush())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/funnel_report", path)
}

func TestBackend_FlushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("funnel", srv.URL)
	require.NoError(t, err)

	err = b.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompush: push")
}

func TestNewBackend_EmptyURL(t *testing.T) {
	_, err := NewBackend("funnel", "  ")
	assert.Error(t, err)
}
