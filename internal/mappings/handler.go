package mappings

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/balaji119/local-mail-forwarder-graph/internal/middleware"
)

// Handler exposes the two lookup files over HTTP so operators can inspect
// and replace them without touching the host filesystem.
type Handler struct {
	stock      *Store
	operations *ListStore
}

func NewHandler(stock *Store, operations *ListStore) *Handler {
	return &Handler{stock: stock, operations: operations}
}

func (h *Handler) GetStockMappings(w http.ResponseWriter, r *http.Request) {
	writeData(r.Context(), w, h.stock.All())
}

func (h *Handler) PutStockMappings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(ctx, w, "INVALID_BODY", "expected a JSON object of material to stock code", http.StatusBadRequest)
		return
	}

	if err := h.stock.Replace(values); err != nil {
		slog.ErrorContext(ctx, "failed to persist stock mappings", "error", err)
		writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "stock mappings replaced", "count", len(values))
	writeData(ctx, w, h.stock.All())
}

func (h *Handler) GetOperations(w http.ResponseWriter, r *http.Request) {
	writeData(r.Context(), w, h.operations.List())
}

func (h *Handler) PutOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var values []string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(ctx, w, "INVALID_BODY", "expected a JSON array of operation names", http.StatusBadRequest)
		return
	}

	if err := h.operations.Replace(values); err != nil {
		slog.ErrorContext(ctx, "failed to persist operations", "error", err)
		writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "operations list replaced", "count", len(values))
	writeData(ctx, w, h.operations.List())
}

func writeData(ctx context.Context, w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
