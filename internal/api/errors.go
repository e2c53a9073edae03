package api

import (
	"encoding/json"
	"net/http"
)

// Error is the JSON envelope carried by every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// defaultCode picks the code for statuses with an obvious one. Handlers
// needing a more specific code (e.g. validation_error) call writeError.
func defaultCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusMethodNotAllowed:
		return ErrCodeMethodNotAllow
	default:
		return ErrCodeInternal
	}
}

// writeJSON encodes v with the given status. A nil v sends headers only.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
	}
}

// writeError sends the error envelope with an explicit code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func fail(w http.ResponseWriter, status int, message string) {
	writeError(w, status, defaultCode(status), message)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	fail(w, http.StatusBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	fail(w, http.StatusNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	fail(w, http.StatusUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	fail(w, http.StatusForbidden, message)
}

func writeConflict(w http.ResponseWriter, message string) {
	fail(w, http.StatusConflict, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	fail(w, http.StatusInternalServerError, message)
}
