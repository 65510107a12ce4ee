package http

import (
	"context"
	"encoding/json"
	"net/http"
)

// apiError is the single rejection envelope every endpoint uses, the
// streaming ones included (only before their first frame).
type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// successEnvelope wraps happy-path responses. Data and Message are
// mutually exclusive in practice; omitempty keeps the unused one off
// the wire.
type successEnvelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func respond(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	respond(w, statusCode, successEnvelope{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	respond(w, statusCode, successEnvelope{Status: "success", Message: message})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	respond(w, statusCode, apiError{Status: "error", Code: code, Message: message})
}

// writeMappedError translates a domain error once and keeps the logged
// status/code in lockstep with what the client sees.
func writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	logRequestFailure(ctx, operation, status, code, msg, err)
	writeError(w, status, code, msg)
}
