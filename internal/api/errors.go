package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"kgindex/internal/errors"
)

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error          string             `json:"error"`
	Code           string             `json:"code"`
	Details        interface{}        `json:"details,omitempty"`
	SuggestedFixes []errors.FixAction `json:"suggestedFixes,omitempty"`
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error, status int) {
	resp := ErrorResponse{
		Error: err.Error(),
		Code:  string(errors.InternalError),
	}

	var kgErr *errors.KgError
	if stderrors.As(err, &kgErr) {
		resp.Code = string(kgErr.Code)
		resp.Details = kgErr.Details
		resp.SuggestedFixes = kgErr.SuggestedFixes
	}

	WriteJSON(w, resp, status)
}

// WriteKgError writes err with the status its code maps to. Throttled
// requests also get a Retry-After header.
func WriteKgError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter(err)))
	}
	WriteError(w, err, status)
}

// StatusFor maps an error to an HTTP status. A lock conflict anywhere in the
// chain wins over the wrapping code.
func StatusFor(err error) int {
	if errors.HasCode(err, errors.IndexLocked) {
		return http.StatusConflict
	}
	if errors.CodeOf(err) == errors.Unauthorized && retryAfter(err) > 0 {
		return http.StatusTooManyRequests
	}
	return MapKgErrorToStatus(errors.CodeOf(err))
}

func retryAfter(err error) int {
	var kgErr *errors.KgError
	if !stderrors.As(err, &kgErr) {
		return 0
	}
	if d, ok := kgErr.Details.(map[string]int); ok {
		return d["retryAfter"]
	}
	return 0
}

// MapKgErrorToStatus maps kgindex error codes to HTTP status codes
func MapKgErrorToStatus(code errors.ErrorCode) int {
	switch code {
	case errors.EntityNotFound:
		return http.StatusNotFound // 404
	case errors.QueryInvalid:
		return http.StatusBadRequest // 400
	case errors.SnapshotMissing:
		return http.StatusServiceUnavailable // 503
	case errors.IndexLocked:
		return http.StatusConflict // 409
	case errors.SemanticUnavailable:
		return http.StatusServiceUnavailable // 503
	case errors.Unauthorized:
		return http.StatusUnauthorized // 401
	case errors.RebuildFailed, errors.ConfigInvalid, errors.InternalError:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// BadRequest writes a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, errors.Newf(errors.QueryInvalid, "%s", message), http.StatusBadRequest)
}

// NotFound writes a 404 Not Found error
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, errors.Newf(errors.EntityNotFound, "%s", message), http.StatusNotFound)
}

// InternalError writes a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string, err error) {
	WriteError(w, errors.New(errors.InternalError, message, err), http.StatusInternalServerError)
}
