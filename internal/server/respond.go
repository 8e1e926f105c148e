package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"roomchat/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("method", r.Method).
			Str("action", r.URL.Query().Get("action")).
			Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": apperr.Message(err)})
}
