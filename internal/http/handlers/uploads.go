package handlers

import (
	"io"
	"net/http"
)

// maxUploadBytes bounds source-image uploads for style application.
const maxUploadBytes = 10 << 20

// UploadInput accepts a multipart image upload and returns the storage key
// to pass as input_image_key on a later render submission.
func (a *App) UploadInput(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit")
		return
	}

	key, err := a.Artifacts.SaveInput(r.Context(), userID, data)
	if err != nil {
		a.error(w, http.StatusBadRequest, "unsupported_image", "file must be a decodable image")
		return
	}

	a.Logger.Info().Str("user_id", userID).Str("input_image_key", key).Msg("uploads: input image stored")
	a.json(w, http.StatusCreated, map[string]string{"input_image_key": key})
}
