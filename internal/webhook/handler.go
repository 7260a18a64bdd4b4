package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "signetry/pkg/domain-errors"
)

// Handler exposes the inbound webhook route. The route is authenticated by
// the HMAC signature alone; it sits outside the service JWT middleware.
type Handler struct {
	processor *Processor
	log       *slog.Logger
}

func NewHandler(processor *Processor, log *slog.Logger) *Handler {
	return &Handler{processor: processor, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/provider", h.receive)
}

// receive returns 401 only when the signature does not verify. Every other
// outcome, including internal errors, is acknowledged with 200 so the
// provider's at-least-once delivery does not redeliver what we cannot use.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.Warn("webhook body read failed", "error", err)
		writeReceived(w)
		return
	}

	err = h.processor.Process(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeSignature) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid signature"})
			return
		}
		h.log.Error("webhook processing failed", "error", err)
	}
	writeReceived(w)
}

func writeReceived(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "received"})
}
