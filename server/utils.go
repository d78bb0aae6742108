package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/snapcast/identity"
	"github.com/onnwee/snapcast/telemetry"
	"github.com/onnwee/snapcast/video"
)

const invalidEmailMessage = "Invalid email address. Please use a valid email."

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind video.ErrorKind) int {
	switch kind {
	case video.KindUnauthenticated:
		return http.StatusUnauthorized
	case video.KindRateLimited:
		return http.StatusTooManyRequests
	case video.KindValidation:
		return http.StatusBadRequest
	case video.KindUploadTargetUnavailable, video.KindTransferFailed:
		return http.StatusBadGateway
	case video.KindNotFound:
		return http.StatusNotFound
	case video.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError maps err onto a status code and a user-facing message. Internal failures are
// logged with the request's correlation id and never echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, identity.ErrInvalidEmail) {
		writeJSONError(w, http.StatusBadRequest, invalidEmailMessage, video.KindValidation.String())
		return
	}
	kind := video.Classify(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
		telemetry.LoggerWithCorr(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path), slog.String("code", kind.String()), slog.Any("err", err))
	}
	writeJSONError(w, status, video.UserMessage(err), kind.String())
}

// decodeJSON reads a bounded JSON body into v. Failures are validation errors.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &video.ValidationError{Message: fmt.Sprintf("Invalid request body: %v", err)}
	}
	return nil
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
