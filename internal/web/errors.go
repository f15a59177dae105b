package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, status), status 0 derives it from err
//  3. Error is mapped via core.MapError to get user-friendly message
//  4. Technical error is logged with the request id for correlation
//  5. User message is rendered as JSON, an HTMX partial, or plain text

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/letters/internal/core"
	"github.com/JonMunkholm/letters/internal/logging"
	"github.com/JonMunkholm/letters/internal/render"
	"github.com/JonMunkholm/letters/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code, Kind, Row) and human-readable
// (Message, Action) fields.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Action  string         `json:"action,omitempty"`
	Code    string         `json:"code"`
	Kind    core.ErrorKind `json:"kind,omitempty"`
	Row     *int           `json:"row,omitempty"`
}

// requestError is a client mistake caught before any work starts.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var (
		reqErr  *requestError
		sizeErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &sizeErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &reqErr),
		errors.Is(err, core.ErrInvalidTemplateID),
		errors.Is(err, render.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyBatches):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	if be, ok := core.AsBatchError(err); ok {
		switch be.Kind {
		case core.KindMalformedInput, core.KindEmptyInput:
			return http.StatusBadRequest
		case core.KindTemplateNotFound:
			return http.StatusNotFound
		case core.KindCancelled:
			return http.StatusGatewayTimeout
		}
	}
	return http.StatusInternalServerError
}

// respondError logs the technical error and writes a user-friendly response
// in the format the client asked for. A zero status is derived from err.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	logArgs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError || !core.IsUserFacing(err) {
		logger.Error("request error", logArgs...)
	} else {
		logger.Warn("request error", logArgs...)
	}

	switch {
	case isHTMX(r):
		renderErrorPartial(w, r, userMsg, status)
	case wantsJSON(r):
		resp := ErrorResponse{
			Error:   userMsg.Message,
			Message: userMsg.Message,
			Action:  userMsg.Action,
			Code:    userMsg.Code,
		}
		if be, ok := core.AsBatchError(err); ok {
			resp.Kind = be.Kind
			if be.HasRow() {
				row := be.Row
				resp.Row = &row
			}
		}
		writeJSON(w, r, status, resp)
	default:
		http.Error(w, userMsg.Message+" ("+userMsg.Code+")", status)
	}
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render error partial", "error", err)
	}
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON reports whether the client should get a JSON error. Everything
// except browser page loads does.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/api/") || r.Method != http.MethodGet {
		return true
	}
	return !strings.Contains(r.Header.Get("Accept"), "text/html")
}
