package main

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxUploadBytes = 32 << 20

func (a *App) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	writeJSON(w, http.StatusOK, user.Public())
}

func (a *App) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	settings, err := a.DB.GetUserSettings(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *App) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req UserSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	req.UserID = user.ID

	if err := a.DB.UpdateUserSettings(&req); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *App) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		OldPassword string `json:"old_password" validate:"required"`
		NewPassword string `json:"new_password" validate:"required,min=8"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := checkStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if !comparePassword(user.Password, req.OldPassword) {
		writeError(w, http.StatusBadRequest, "INCORRECT_PASSWORD", "Current password is incorrect")
		return
	}

	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	if err := a.DB.UpdatePassword(user.ID, hashed); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

var allowedAvatarExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

func (a *App) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedAvatarExts[ext] {
		writeError(w, http.StatusBadRequest, "INVALID_FILE_TYPE", "Avatar must be a jpg, jpeg or png image")
		return
	}

	id := uuid.NewString()
	size, err := a.store.Save(r.Context(), id, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store avatar")
		return
	}

	meta := &StoredFile{
		ID:          id,
		OwnerID:     user.ID,
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        size,
		CreatedAt:   time.Now(),
	}
	if err := a.DB.CreateFile(meta); err != nil {
		a.store.Delete(r.Context(), id)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store avatar")
		return
	}

	settings, err := a.DB.GetUserSettings(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	old := settings.AvatarID
	settings.AvatarID = id
	if err := a.DB.UpdateUserSettings(settings); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update settings")
		return
	}
	if old != "" {
		// best effort, the new avatar is already in place
		if err := a.store.Delete(r.Context(), old); err != nil && err != ErrBlobNotFound {
			logger.WithError(err).WithField("file_id", old).Warn("delete previous avatar")
		}
		a.DB.DeleteFile(old)
	}

	writeJSON(w, http.StatusOK, map[string]string{"avatar_id": id})
}

func (a *App) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		writeError(w, http.StatusBadRequest, "CONFIRMATION_REQUIRED", "Account deletion requires confirm: true")
		return
	}

	if err := a.DB.RevokeAllRefreshTokensForUser(user.ID); err != nil {
		logger.WithError(err).Error("revoke tokens on account deletion")
	}
	if err := a.DB.DeleteUser(user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Account deleted successfully"})
}
