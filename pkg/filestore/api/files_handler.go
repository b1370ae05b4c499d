// Package api exposes a filestore.Service over HTTP.
package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-filestore/pkg/filestore"
)

// FilesHandler serves file content, metadata and the change feed.
type FilesHandler struct {
	service filestore.Service
	logger  *slog.Logger
	now     func() time.Time
}

// NewFilesHandler creates a handler backed by service.
func NewFilesHandler(service filestore.Service, logger *slog.Logger) *FilesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilesHandler{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// Routes returns the router for all file store endpoints
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)

	r.Get("/files/{id}", h.GetFile)
	r.Head("/files/{id}", h.HeadFile)
	r.Post("/files/{id}", h.PutFile)
	r.Delete("/files/{id}", h.DeleteFile)
	r.Get("/files/{id}/meta", h.GetMeta)

	r.Get("/storage/updates", h.ListUpdates)
	r.Get("/storage/updates/count", h.CountUpdates)
	return r
}

// UpdateResponse is one entry of the change feed.
type UpdateResponse struct {
	ID         string    `json:"id"`
	IsDeleted  bool      `json:"isDeleted"`
	UpdateDate time.Time `json:"updateDate"`
	Name       string    `json:"name,omitempty"`
}

// Health reports liveness.
func (h *FilesHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// GetFile streams the content of a file.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}

	record, rc, err := h.service.GetStream(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	if record.IsDeleted {
		h.writeError(w, r, errDeleted)
		return
	}

	setContentHeaders(w, record)
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", displayName(record)))
	}

	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, rc)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to send file", "id", id, "bytes", n, "error", err)
		return
	}
	h.logger.DebugContext(r.Context(), "Sent", "id", id, "bytes", n)

	if err := h.service.SetAccessDate(r.Context(), id, h.now()); err != nil {
		h.logger.WarnContext(r.Context(), "failed to record access date", "id", id, "error", err)
	}
}

// HeadFile reports the content headers of a file without its body.
func (h *FilesHandler) HeadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}

	record, err := h.service.GetMeta(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if record.IsDeleted {
		w.WriteHeader(http.StatusGone)
		return
	}

	setContentHeaders(w, record)
	w.WriteHeader(http.StatusOK)
}

// PutFile stores the request body under the id in the path. Metadata comes
// from the Content-Type, Content-Length and Content-Disposition headers.
func (h *FilesHandler) PutFile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}

	exists, err := h.service.Has(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if exists {
		h.writeError(w, r, fmt.Errorf("%w: file %q", filestore.ErrConflict, id))
		return
	}

	meta := &filestore.FileMeta{
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: max(r.ContentLength, 0),
		Name:          attachmentName(r.Header.Get("Content-Disposition")),
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}

	record, err := h.service.Put(r.Context(), id, meta, filestore.FromReader(r.Body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, record)
}

// DeleteFile soft-deletes a file. The content stays until it is purged.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}

	record, err := h.service.GetMeta(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if record.IsDeleted {
		h.writeError(w, r, errDeleted)
		return
	}

	if err := h.service.SetDeleted(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMeta returns the stored record of a file, tombstones included.
func (h *FilesHandler) GetMeta(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}

	record, err := h.service.GetMeta(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, record)
}

// ListUpdates returns the change feed since ?after=, newest first.
func (h *FilesHandler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	since, err := filestore.ParseDate(r.URL.Query().Get("after"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	skip, err := queryInt(r, "skip")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := h.service.ListUpdated(r.Context(), since, skip, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]UpdateResponse, 0, len(records))
	for _, record := range records {
		resp = append(resp, UpdateResponse{
			ID:         record.ID,
			IsDeleted:  record.IsDeleted,
			UpdateDate: record.UpdateDate,
			Name:       record.Name,
		})
	}
	render.JSON(w, r, resp)
}

// CountUpdates returns the size of the change feed since ?after=.
func (h *FilesHandler) CountUpdates(w http.ResponseWriter, r *http.Request) {
	since, err := filestore.ParseDate(r.URL.Query().Get("after"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	count, err := h.service.CountUpdated(r.Context(), since)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, count)
}

// fileID reads the id path parameter. Ids may contain escaped slashes.
func (h *FilesHandler) fileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	var err error
	if r.URL.RawPath != "" {
		// chi routed on the escaped path
		id, err = url.PathUnescape(id)
	}
	if err == nil {
		err = filestore.ValidateID(id)
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid file id: %v", filestore.ErrValidation, err))
		return "", false
	}
	return id, true
}

func setContentHeaders(w http.ResponseWriter, record *filestore.FileRecord) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	if record.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(record.ContentLength, 10))
	}
	w.Header().Set("Last-Modified", record.UpdateDate.Format(http.TimeFormat))
}

func displayName(record *filestore.FileRecord) string {
	if record.Name != "" {
		return record.Name
	}
	return record.ID
}

// attachmentName extracts the filename of an "attachment" disposition.
func attachmentName(header string) string {
	if header == "" {
		return ""
	}
	disposition, params, err := mime.ParseMediaType(header)
	if err != nil || disposition != "attachment" {
		return ""
	}
	return params["filename"]
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", filestore.ErrValidation, key)
	}
	return v, nil
}
