package main

import (
	"net/http"
)

func (a *App) HandleRoot(w http.ResponseWriter, r *http.Request) {
	settings, err := a.DB.GetAdminSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    settings.AppName,
		"version": settings.AppVersion,
		"status":  "running",
	})
}

// HandleAppSettings exposes the public subset of the admin settings row.
func (a *App) HandleAppSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.DB.GetAdminSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, PublicAppSettings{
		AppName:           settings.AppName,
		CustomMessage:     settings.CustomMessage,
		SubscriptionPrice: settings.SubscriptionPrice,
		MaintenanceMode:   settings.MaintenanceMode,
	})
}
