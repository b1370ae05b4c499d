package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filestore/pkg/filestore"
)

func TestMetrics_EventSink(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	require.NoError(t, m.FileCreated(ctx, &filestore.FileRecord{ID: "a", ContentLength: 10}))
	require.NoError(t, m.FileCreated(ctx, &filestore.FileRecord{ID: "b", ContentLength: 5}))
	require.NoError(t, m.FileSoftDeleted(ctx, "a"))
	require.NoError(t, m.FileDeleted(ctx, "a", "h", false))
	require.NoError(t, m.FileDeleted(ctx, "b", "h", true))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.filesCreated))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.bytesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesSoftDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesDeleted.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesDeleted.WithLabelValues("false")))
}

func TestMetrics_Register(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry)

	families, err := registry.Gather()
	require.NoError(t, err)
	// Vectors without observations are not gathered; the plain counters are.
	assert.NotEmpty(t, families)
}

func TestMetrics_Middleware(t *testing.T) {
	m := New(nil)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/files/{id}", "404")))
}
