package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
)

type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError maps err to its HTTP status. Storage failures hide their cause from the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	msg := "internal error"
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	if kind == apperr.KindStorage {
		if logger != nil {
			logger.Error("request failed", "err", err)
		}
		if ae == nil {
			msg = "storage unavailable"
		}
	}
	writeJSON(w, apperr.HTTPStatus(kind), errorEnvelope{Error: errorBody{
		Kind:      string(kind),
		Message:   msg,
		Retryable: apperr.Retryable(err),
	}})
}
