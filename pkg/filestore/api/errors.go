package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tendant/simple-filestore/pkg/filestore"
)

var errDeleted = errors.New("file deleted")

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error onto an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, errDeleted):
		return http.StatusGone, "deleted"
	case errors.Is(err, filestore.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, filestore.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, filestore.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, filestore.ErrIntegrity):
		return http.StatusInternalServerError, "integrity_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *FilesHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
		message = http.StatusText(status)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}
