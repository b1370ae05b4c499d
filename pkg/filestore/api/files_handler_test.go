package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-filestore/pkg/filestore"
	memoryrepo "github.com/tendant/simple-filestore/pkg/filestore/repo/memory"
	memorystorage "github.com/tendant/simple-filestore/pkg/filestore/storage/memory"
)

const helloHash = "185f8db32271fe25f561a6fc938b2e264306ec304eda518007d1764826381969"

type fixture struct {
	service filestore.Service
	blobs   *memorystorage.Backend
	router  chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blobs := memorystorage.New(filestore.SHA256)
	svc, err := filestore.New(
		filestore.WithBlobStore(blobs),
		filestore.WithMetadataStore(memoryrepo.New()),
		filestore.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	handler := NewFilesHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{service: svc, blobs: blobs, router: handler.Routes()}
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) put(t *testing.T, id, content string) {
	t.Helper()
	_, err := f.service.Put(context.Background(), id, &filestore.FileMeta{
		ContentType:   "text/plain",
		ContentLength: int64(len(content)),
		Name:          id + ".txt",
	}, filestore.Bytes([]byte(content)))
	require.NoError(t, err)
}

func TestPutFile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/files/doc", strings.NewReader("Hello"), map[string]string{
		"Content-Type":        "text/plain",
		"Content-Disposition": `attachment; filename="hello.txt"`,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var record filestore.FileRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "doc", record.ID)
	assert.Equal(t, helloHash, record.ContentHash)
	assert.Equal(t, "text/plain", record.ContentType)
	assert.Equal(t, int64(5), record.ContentLength)
	assert.Equal(t, "hello.txt", record.Name)

	rec = f.do(t, http.MethodPost, "/files/doc", strings.NewReader("Other"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"conflict"`)
}

func TestPutFileDefaults(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/files/raw", strings.NewReader("bytes"), map[string]string{
		"Content-Disposition": "inline",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	record, err := f.service.GetMeta(context.Background(), "raw")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", record.ContentType)
	assert.Empty(t, record.Name)
}

func TestGetFile(t *testing.T) {
	f := newFixture(t)
	f.put(t, "doc", "Hello")

	rec := f.do(t, http.MethodGet, "/files/doc", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Header().Get("Content-Disposition"))

	record, err := f.service.GetMeta(context.Background(), "doc")
	require.NoError(t, err)
	assert.NotNil(t, record.AccessDate)

	rec = f.do(t, http.MethodGet, "/files/doc?download=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="doc.txt"`, rec.Header().Get("Content-Disposition"))
}

func TestGetFileEscapedID(t *testing.T) {
	f := newFixture(t)
	f.put(t, "a/b", "nested")

	rec := f.do(t, http.MethodGet, "/files/a%2Fb", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nested", rec.Body.String())
}

func TestGetFileStatuses(t *testing.T) {
	f := newFixture(t)
	f.put(t, "gone", "bye")
	require.NoError(t, f.service.SetDeleted(context.Background(), "gone"))
	f.put(t, "broken", "lost")
	require.NoError(t, f.blobs.Delete(context.Background(), filestore.SHA256.Sum([]byte("lost"))))

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"unknown id", http.MethodGet, "/files/missing", http.StatusNotFound},
		{"tombstone", http.MethodGet, "/files/gone", http.StatusGone},
		{"missing blob", http.MethodGet, "/files/broken", http.StatusInternalServerError},
		{"head unknown", http.MethodHead, "/files/missing", http.StatusNotFound},
		{"head tombstone", http.MethodHead, "/files/gone", http.StatusGone},
		{"meta unknown", http.MethodGet, "/files/missing/meta", http.StatusNotFound},
		{"meta tombstone", http.MethodGet, "/files/gone/meta", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, nil, nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestIntegrityErrorHidesDetail(t *testing.T) {
	f := newFixture(t)
	f.put(t, "broken", "lost")
	require.NoError(t, f.blobs.Delete(context.Background(), filestore.SHA256.Sum([]byte("lost"))))

	rec := f.do(t, http.MethodGet, "/files/broken", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "integrity_error", body.Error.Code)
	assert.Equal(t, "Internal Server Error", body.Error.Message)
}

func TestHeadFile(t *testing.T) {
	f := newFixture(t)
	f.put(t, "doc", "Hello")

	rec := f.do(t, http.MethodHead, "/files/doc", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Body.String())
}

func TestDeleteFile(t *testing.T) {
	f := newFixture(t)
	f.put(t, "doc", "Hello")

	rec := f.do(t, http.MethodDelete, "/files/doc", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	record, err := f.service.GetMeta(context.Background(), "doc")
	require.NoError(t, err)
	assert.True(t, record.IsDeleted)

	ok, err := f.blobs.Has(context.Background(), helloHash)
	require.NoError(t, err)
	assert.True(t, ok, "soft delete keeps the blob")

	rec = f.do(t, http.MethodDelete, "/files/doc", nil, nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = f.do(t, http.MethodDelete, "/files/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMeta(t *testing.T) {
	f := newFixture(t)
	f.put(t, "doc", "Hello")

	rec := f.do(t, http.MethodGet, "/files/doc/meta", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var record filestore.FileRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, helloHash, record.ContentHash)
	assert.Equal(t, "doc.txt", record.Name)
	assert.False(t, record.IsDeleted)
}

func TestUpdates(t *testing.T) {
	f := newFixture(t)
	f.put(t, "first", "one")
	time.Sleep(2 * time.Millisecond)
	f.put(t, "second", "two")
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, f.service.SetDeleted(context.Background(), "first"))

	rec := f.do(t, http.MethodGet, "/storage/updates", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var updates []UpdateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updates))
	require.Len(t, updates, 2)
	assert.Equal(t, "first", updates[0].ID)
	assert.True(t, updates[0].IsDeleted)
	assert.Equal(t, "second", updates[1].ID)
	assert.Equal(t, "second.txt", updates[1].Name)

	rec = f.do(t, http.MethodGet, "/storage/updates?limit=1&skip=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updates))
	require.Len(t, updates, 1)
	assert.Equal(t, "second", updates[0].ID)

	after := updates[0].UpdateDate.Add(time.Millisecond).UnixMilli()
	rec = f.do(t, http.MethodGet, "/storage/updates/count?after="+itoa(after), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", strings.TrimSpace(rec.Body.String()))

	rec = f.do(t, http.MethodGet, "/storage/updates/count", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", strings.TrimSpace(rec.Body.String()))
}

func TestUpdatesValidation(t *testing.T) {
	f := newFixture(t)

	for _, target := range []string{
		"/storage/updates?after=yesterday",
		"/storage/updates?limit=-1",
		"/storage/updates?skip=x",
		"/storage/updates/count?after=soon",
	} {
		rec := f.do(t, http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	f := newFixture(t)
	limited := RequestSizeLimitMiddleware(4)(f.router)

	req := httptest.NewRequest(http.MethodPost, "/files/big", strings.NewReader("too many bytes"))
	rec := httptest.NewRecorder()
	limited.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	ok, err := f.service.Has(context.Background(), "big")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAttachmentName(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{`attachment; filename="report.pdf"`, "report.pdf"},
		{"attachment; filename=plain.txt", "plain.txt"},
		{`inline; filename="shown.png"`, ""},
		{"garbage;;", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, attachmentName(tt.header), tt.header)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestGetFilePercentID(t *testing.T) {
	f := newFixture(t)
	f.put(t, "50%", "half")

	rec := f.do(t, http.MethodGet, "/files/50%25", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "half", rec.Body.String())
}
