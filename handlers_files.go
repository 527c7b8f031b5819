package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func (a *App) HandleUploadFile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	settings, err := a.DB.GetAdminSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if !settings.EnableFileUpload {
		writeError(w, http.StatusForbidden, "UPLOADS_DISABLED", "File uploads are currently disabled")
		return
	}

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

	id := uuid.NewString()
	size, err := a.store.Save(r.Context(), id, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store file")
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
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store file")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"file_id":  id,
		"filename": header.Filename,
		"size":     size,
	})
}

func (a *App) HandleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	meta, err := a.DB.GetFile(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if meta == nil {
		writeError(w, http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
		return
	}

	blob, err := a.store.Open(r.Context(), id)
	if err != nil {
		if err == ErrBlobNotFound {
			writeError(w, http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read file")
		return
	}
	defer blob.Close()

	ct := meta.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Name))
	if _, err := io.Copy(w, blob); err != nil {
		logger.WithError(err).WithField("file_id", id).Warn("stream file")
	}
}

func (a *App) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := mux.Vars(r)["id"]

	meta, err := a.DB.GetFile(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if meta == nil {
		writeError(w, http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
		return
	}
	if meta.OwnerID != user.ID && !user.IsAdmin {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You do not own this file")
		return
	}

	if err := a.store.Delete(r.Context(), id); err != nil && err != ErrBlobNotFound {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete file")
		return
	}
	if err := a.DB.DeleteFile(id); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete file")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted successfully"})
}
