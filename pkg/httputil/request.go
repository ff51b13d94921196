package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ParseJSON decodes the request body into dest
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError is ParseJSON that answers 400 itself and reports false
// on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	return orBadRequest(w, ParseJSON(r, dest))
}

func pathVar(r *http.Request, key string) (string, error) {
	raw := mux.Vars(r)[key]
	if raw == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return raw, nil
}

func ParsePathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw, err := pathVar(r, key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID for %s: %s", key, raw)
	}
	return id, nil
}

func ParsePathUUIDOrError(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := ParsePathUUID(r, key)
	return id, orBadRequest(w, err)
}

func ParsePathInt64(r *http.Request, key string) (int64, error) {
	raw, err := pathVar(r, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, raw)
	}
	return n, nil
}

func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	n, err := ParsePathInt64(r, key)
	return n, orBadRequest(w, err)
}

// ParseQueryUUID returns uuid.Nil when the parameter is absent
func ParseQueryUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID for query param %s: %s", key, raw)
	}
	return id, nil
}

// ParseQueryInt returns def when the parameter is absent
func ParseQueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, raw)
	}
	return n, nil
}

func orBadRequest(w http.ResponseWriter, err error) bool {
	if err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}
