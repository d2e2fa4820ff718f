package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lindenhq/linden/internal/domain"
)

// ErrorCodeToHTTPStatus maps a domain error code to an HTTP status code.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.EGONE:
		return http.StatusGone
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	case domain.ENOTIMPL:
		return http.StatusNotImplemented
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable
	case domain.EINTERNAL:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
}

// ErrorResponse writes an error to the response in the format the client
// accepts. Internal error details are never exposed; domain.ErrorMessage
// substitutes a generic message for EINTERNAL.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)
	message := domain.ErrorMessage(err)

	if status >= 500 {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"op", domain.ErrorOp(err),
			"error", err)
	}

	if acceptsJSON(r) {
		writeErrorJSON(w, status, code, message, nil)
		return
	}

	http.Error(w, message, status)
}

// ValidationErrorResponse writes a field-level validation error. Falls back
// to ErrorResponse when err is not a ValidationError.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	fields := domain.GetValidationFields(err)
	if fields == nil {
		ErrorResponse(w, r, err)
		return
	}

	if acceptsJSON(r) {
		writeErrorJSON(w, http.StatusBadRequest, domain.EINVALID, "Validation failed", fields)
		return
	}

	http.Error(w, err.Error(), http.StatusBadRequest)
}

// NotFoundResponse writes a generic 404.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.NotFound("", "resource", r.URL.Path))
}

// UnauthorizedResponse writes a generic 401.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Unauthorized("", "Authentication required"))
}

// ForbiddenResponse writes a generic 403.
func ForbiddenResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Forbidden("", "Not authorized"))
}

// InternalErrorResponse writes a generic 500, logging the underlying error.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "internal error"))
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string, fields map[string]string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Fields = fields

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// acceptsJSON reports whether the client wants a JSON response.
func acceptsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasSuffix(r.URL.Path, ".json")
}
