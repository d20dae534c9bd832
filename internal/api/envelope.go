package api

import (
	"encoding/json"
	"net/http"

	"github.com/avast/labmanager-unit-vsphere/internal/observability"
)

// responseType is the discriminator on one envelope element, per the
// external interface's response contract.
type responseType string

const (
	typeRequestID      responseType = "request_id"
	typeReturnValue    responseType = "return_value"
	typeRetryUntilLast responseType = "retry_until_last"
	typeException      responseType = "exception"
)

// responseElement is one entry of the `responses` array every HTTP
// Intake endpoint replies with.
type responseElement struct {
	Type        responseType `json:"type"`
	IsLast      bool         `json:"is_last"`
	RequestID   int64        `json:"request_id,omitempty"`
	ReturnValue any          `json:"return_value,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// envelope wraps every HTTP Intake JSON response. CorrelationID echoes
// the per-request id stamped by observability.RequestID, letting a
// client correlate a response with the server-side log lines
// logging.OpContext annotated with the same id.
type envelope struct {
	CorrelationID string            `json:"correlation_id,omitempty"`
	Responses     []responseElement `json:"responses"`
}

func writeEnvelope(w http.ResponseWriter, status int, elements ...responseElement) {
	w.Header().Set("Content-Type", "application/json")
	correlationID := w.Header().Get(observability.RequestIDHeader)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{CorrelationID: correlationID, Responses: elements})
}

func writeRequestID(w http.ResponseWriter, status int, requestID int64) {
	writeEnvelope(w, status, responseElement{Type: typeRequestID, IsLast: true, RequestID: requestID})
}

func writeReturnValue(w http.ResponseWriter, status int, value any) {
	writeEnvelope(w, status, responseElement{Type: typeReturnValue, IsLast: true, ReturnValue: value})
}

func writeRetryUntilLast(w http.ResponseWriter, value any) {
	writeEnvelope(w, http.StatusOK, responseElement{Type: typeRetryUntilLast, IsLast: false, ReturnValue: value})
}

func writeException(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, responseElement{Type: typeException, IsLast: true, Message: message})
}
