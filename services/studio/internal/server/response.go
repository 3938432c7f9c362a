package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"ideaforge/internal/util"
	"ideaforge/pkg/ai"
	"ideaforge/pkg/quota"
	"ideaforge/services/studio/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeOK adds the success flag to payload.
func writeOK(w http.ResponseWriter, status int, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	writeJSON(w, status, payload)
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Credits   *int   `json:"credits,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, msg, errorCodeForStatus(status))
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

// statusForError maps the app error taxonomy to an HTTP status and code.
func statusForError(err error) (int, string) {
	var verr *app.ValidationError
	var perr *ai.ProviderError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, app.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "INSUFFICIENT_CREDITS"
	case errors.Is(err, quota.ErrProjectLimit):
		return http.StatusForbidden, "PROJECT_LIMIT_REACHED"
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, app.ErrProjectNotFound):
		return http.StatusNotFound, "PROJECT_NOT_FOUND"
	case errors.Is(err, app.ErrDocumentNotFound):
		return http.StatusNotFound, "DOCUMENT_NOT_FOUND"
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, app.ErrDocumentBusy):
		return http.StatusConflict, "DOCUMENT_BUSY"
	case errors.Is(err, app.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, app.ErrDocumentNotReady):
		return http.StatusConflict, "DOCUMENT_NOT_READY"
	case errors.Is(err, app.ErrExportDisabled):
		return http.StatusNotImplemented, "EXPORT_DISABLED"
	case errors.As(err, &perr):
		return http.StatusBadGateway, "PROVIDER_ERROR"
	default:
		return http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR"
	}
}

// writeAppError reports err. Internal failures are logged and hidden.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	resp := errorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	}
	var verr *app.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

// writeChargedError reports err together with the balance after a charge.
func writeChargedError(w http.ResponseWriter, r *http.Request, err error, credits int) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
		Credits:   &credits,
	})
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
