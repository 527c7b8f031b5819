package main

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func (a *App) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	user, err := a.DB.GetUserByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	// Non-admin accounts get the same answer as bad credentials so the
	// endpoint does not reveal which emails belong to admins.
	if user == nil || !user.IsAdmin || !comparePassword(user.Password, req.Password) {
		writeAuthError(w, ErrInvalidCredentials)
		return
	}

	session, err := a.issueSession(user, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *App) HandleGetAdminSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.DB.GetAdminSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *App) HandleUpdateAdminSettings(w http.ResponseWriter, r *http.Request) {
	var req AdminSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if err := a.DB.UpdateAdminSettings(&req); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *App) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "count must be a positive integer")
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}

	var before int64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "cursor must be a unix timestamp")
			return
		}
		before = n
	}

	users, err := a.DB.ListUsers(limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}

	resp := map[string]interface{}{"users": out}
	if len(users) == limit {
		resp["next_cursor"] = users[len(users)-1].CreatedAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}
