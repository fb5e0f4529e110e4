package apperr

import (
	"encoding/json"
	"net/http"
)

// Body is the uniform REST error body.
type Body struct {
	Error string `json:"error"`
}

// WriteJSON writes err as {"error": message} with its mapped status.
func WriteJSON(w http.ResponseWriter, err error) {
	WriteStatus(w, HTTPStatus(err), Message(err))
}

// WriteStatus writes an explicit status and message in the uniform body.
func WriteStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Body{Error: msg})
}
