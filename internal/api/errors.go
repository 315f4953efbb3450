// Package api is the thin HTTP+SSE edge over the Element API,
// Task/Workflow logic, Worktree Manager and Session Manager. It
// interprets nothing the core doesn't already decide; it only
// translates JSON requests into core calls and core errors into a
// stable status/code table.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/elemental/daemon/internal/elemerr"
)

// errorBody is the response shape for every non-2xx response.
type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// codeFor maps an error's Kind to one of the stable string error codes.
// Handlers that need a more specific code (SESSION_EXISTS,
// INVALID_AGENT, NO_RESUMABLE_SESSION, ...) pass it explicitly via
// writeErrorCode instead of relying on this default.
func codeFor(kind elemerr.Kind) string {
	switch kind {
	case elemerr.KindValidation, elemerr.KindCycleDetected:
		return "VALIDATION_ERROR"
	case elemerr.KindNotFound:
		return "NOT_FOUND"
	case elemerr.KindConflict:
		return "CONFLICT"
	case elemerr.KindInvalidState:
		return "INVALID_STATE"
	case elemerr.KindResourceMissing:
		return "INVALID_INPUT"
	default:
		return "INTERNAL_ERROR"
	}
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates err (ideally an *elemerr.Error) into the JSON
// error envelope and an HTTP status per its Kind.
func writeError(w http.ResponseWriter, err error) {
	kind := elemerr.KindOf(err)
	writeErrorCode(w, kind.HTTPStatus(), codeFor(kind), err.Error(), elemerr.Details(err))
}

// writeErrorCode writes an explicit status/code/message, for call sites
// that need a more specific code than Kind alone implies (SESSION_EXISTS,
// NO_SESSION, INVALID_AGENT, ...).
func writeErrorCode(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Details = details
	writeJSON(w, status, body)
}
