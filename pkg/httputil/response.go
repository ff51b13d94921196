package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPError is implemented by service errors that carry their own status
// and a message that is safe to show to callers
type HTTPError interface {
	error
	HTTPStatus() int
	PublicMessage() string
}

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteError exposes err.Error() to the caller. Prefer WriteServiceError for
// errors coming out of the service layer.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteServiceError looks through wrapped errors for an HTTPError. Anything
// else is reported as an opaque 500 so internal details never leak.
func WriteServiceError(w http.ResponseWriter, err error) {
	status, message := http.StatusInternalServerError, "internal server error"
	var he HTTPError
	if errors.As(err, &he) {
		status, message = he.HTTPStatus(), he.PublicMessage()
	}
	WriteErrorMessage(w, status, message)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// NoStore keeps permission snapshots out of browser and proxy caches
func NoStore(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}
