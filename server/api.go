package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

const errNoData = "No heart rate data available"

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleHeartRate(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.latest.Read()

	if !ok {
		sendJSON(w, r, http.StatusNotFound, errorBody{Error: errNoData})
		return
	}

	sendJSON(w, r, http.StatusOK, reading)
}

func sendJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("http: failed to write response")
	}
}
