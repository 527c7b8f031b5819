package main

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Authentication/authorization outcomes. Each maps to exactly one HTTP
// rejection; none is retried internally.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid login token")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrUserNotFound       = errors.New("user not found")
	ErrForbidden          = errors.New("admin access required")
)

// Token codec errors. The principal resolver collapses both into
// ErrInvalidToken so callers cannot tell which check failed.
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// APIError is the error half of the response envelope
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Data  interface{} `json:"data"`
	Error *APIError   `json:"error"`
}

// writeJSON wraps a successful payload in the standard {data, error} envelope
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: v}); err != nil {
		logger.WithError(err).Error("write json response")
	}
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: &APIError{Code: code, Message: message}}); err != nil {
		logger.WithError(err).Error("write error response")
	}
}

// writeAuthError maps an auth failure to its HTTP rejection
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, ErrNotLoggedIn):
		writeError(w, http.StatusUnauthorized, "NOT_LOGGED_IN", "Not logged in")
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, "USER_NOT_FOUND", "User not found")
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid login token")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Admin access required to perform this operation")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
