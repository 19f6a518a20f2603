package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gallery/internal/sqlinline"
	"gallery/pkg/zip"

	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 24
	maxPageSize     = 100
)

type galleryItem struct {
	ID          string    `json:"id"`
	StylePhrase string    `json:"style_phrase"`
	ModelKey    string    `json:"model_key"`
	ImageKey    string    `json:"image_key"`
	ThumbKey    string    `json:"thumb_key"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *App) GallerySearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	rows, err := a.SQL.Query(r.Context(), sqlinline.QSearchRenders, query, (page-1)*size, size)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to search gallery")
		return
	}
	defer rows.Close()

	items := []galleryItem{}
	var total int
	for rows.Next() {
		var item galleryItem
		if err := rows.Scan(&item.ID, &item.StylePhrase, &item.ModelKey, &item.ImageKey, &item.ThumbKey, &item.CreatedAt, &total); err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to read gallery rows")
			return
		}
		items = append(items, item)
	}
	a.json(w, http.StatusOK, map[string]any{
		"items":     items,
		"page":      page,
		"page_size": size,
		"total":     total,
	})
}

func (a *App) GalleryStyles(w http.ResponseWriter, r *http.Request) {
	rows, err := a.SQL.Query(r.Context(), sqlinline.QListStyles)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list styles")
		return
	}
	defer rows.Close()

	styles := []string{}
	for rows.Next() {
		var style string
		if err := rows.Scan(&style); err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to read styles")
			return
		}
		styles = append(styles, style)
	}
	a.json(w, http.StatusOK, map[string]any{"styles": styles})
}

func (a *App) GalleryDefault(w http.ResponseWriter, r *http.Request) {
	rows, err := a.SQL.Query(r.Context(), sqlinline.QListDefaultRenders, defaultPageSize)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load gallery")
		return
	}
	defer rows.Close()

	items := []galleryItem{}
	for rows.Next() {
		var item galleryItem
		if err := rows.Scan(&item.ID, &item.StylePhrase, &item.ModelKey, &item.ImageKey, &item.ThumbKey, &item.CreatedAt); err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to read gallery rows")
			return
		}
		items = append(items, item)
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// ArtifactDownload streams a stored image or thumbnail by key.
func (a *App) ArtifactDownload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "artifact key required")
		return
	}
	data, err := a.Artifacts.ReadArtifact(r.Context(), key)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GalleryZip bundles every succeeded render into a zip archive.
func (a *App) GalleryZip(w http.ResponseWriter, r *http.Request) {
	rows, err := a.SQL.Query(r.Context(), sqlinline.QListSucceededArtifacts)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load artifacts")
		return
	}
	defer rows.Close()

	var assets []zip.Asset
	for rows.Next() {
		var id, imageKey, thumbKey string
		if err := rows.Scan(&id, &imageKey, &thumbKey); err != nil {
			continue
		}
		data, err := a.Artifacts.ReadArtifact(r.Context(), imageKey)
		if err != nil {
			continue
		}
		assets = append(assets, zip.Asset{Filename: fmt.Sprintf("%s.png", id), MIME: "image/png", Data: data})
	}
	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=gallery.zip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
