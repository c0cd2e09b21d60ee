package quote

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/balaji119/local-mail-forwarder-graph/features/ingest"
	"github.com/balaji119/local-mail-forwarder-graph/internal/middleware"
)

// Handler implements the delivery webhook contract: it always answers a
// well-formed request with 200 and an explicit replied flag. Only a body
// that does not decode gets a 4xx.
type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload ingest.QuotePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.ErrorContext(ctx, "rejecting undecodable delivery", "error", err)
		h.writeError(w, r, "INVALID_BODY", "expected a quote payload", http.StatusBadRequest)
		return
	}

	if err := h.service.Respond(ctx, &payload); err != nil {
		slog.ErrorContext(ctx, "quote response failed", "job_id", r.Header.Get("X-Job-ID"), "error", err)
		h.writeAck(w, false, err.Error())
		return
	}

	h.writeAck(w, true, "")
}

func (h *Handler) writeAck(w http.ResponseWriter, replied bool, reason string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{"replied": replied}
	if reason != "" {
		resp["reason"] = reason
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode ack", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(r.Context()),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
