// Package api exposes the engine over JSON/HTTP. Handlers are thin: they
// decode, call into the store, syncer or dispatcher, and map structured
// errors to status codes in one place.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/store"
)

// writeJSON encodes v to a buffer first so a failed encode never produces a
// partial response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("API: Failed to write response: %v", err)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeError maps an engine error to an HTTP status and a structured body.
func writeError(w http.ResponseWriter, err error) {
	kind := mailerr.KindOf(err)

	switch {
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrContactNotFound),
		errors.Is(err, store.ErrGroupNotFound),
		errors.Is(err, store.ErrMessageNotFound):
		kind = mailerr.KindNotFound
	case errors.Is(err, store.ErrInvalidSetting):
		kind = mailerr.KindValidation
	case errors.Is(err, store.ErrDuplicateMessage):
		kind = mailerr.KindValidation
	}

	status := http.StatusInternalServerError
	switch kind {
	case mailerr.KindValidation, mailerr.KindFilterConfig:
		status = http.StatusBadRequest
	case mailerr.KindNotFound:
		status = http.StatusNotFound
	case mailerr.KindAuthentication, mailerr.KindConnection, mailerr.KindSend:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		log.Printf("API: internal error: %v", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: string(kind), Message: err.Error()}})
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return mailerr.Wrap(mailerr.KindValidation, err, "invalid request body")
	}
	return nil
}

// queryInt64 parses a required int64 query parameter.
func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, mailerr.New(mailerr.KindValidation, "%s is required", name)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, mailerr.New(mailerr.KindValidation, "%s must be an integer", name)
	}
	return value, nil
}

// queryInt64Default parses an optional int64 query parameter.
func queryInt64Default(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, mailerr.New(mailerr.KindValidation, "%s must be an integer", name)
	}
	return value, nil
}

// pathInt64 parses an int64 path segment (Go 1.22 pattern value).
func pathInt64(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return 0, mailerr.New(mailerr.KindValidation, "%s is required", name)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, mailerr.New(mailerr.KindValidation, "%s must be an integer", name)
	}
	return value, nil
}
