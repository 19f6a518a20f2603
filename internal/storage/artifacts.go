package storage

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	thumbWidth  = 200
	thumbHeight = 200
)

// ArtifactStore writes finished render images together with a derived
// thumbnail. Keys are grouped by year and month so the tree stays browsable
// as the gallery grows.
type ArtifactStore struct {
	files *FileStore
}

func NewArtifactStore(files *FileStore) *ArtifactStore {
	return &ArtifactStore{files: files}
}

// SaveRender persists the full-size image and a 200x200 thumbnail, returning
// the storage keys of both. The thumbnail is always PNG regardless of the
// source format.
func (s *ArtifactStore) SaveRender(ctx context.Context, renderID string, at time.Time, data []byte) (imageKey, thumbKey string, err error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("storage: decode render image: %w", err)
	}

	prefix := fmt.Sprintf("renders/%04d/%02d", at.Year(), int(at.Month()))

	var full bytes.Buffer
	if err := png.Encode(&full, src); err != nil {
		return "", "", fmt.Errorf("storage: encode render image: %w", err)
	}
	imageKey, err = s.files.Write(ctx, fmt.Sprintf("%s/%s.png", prefix, renderID), full.Bytes())
	if err != nil {
		return "", "", err
	}

	thumb := imaging.Thumbnail(src, thumbWidth, thumbHeight, imaging.Lanczos)
	var small bytes.Buffer
	if err := png.Encode(&small, thumb); err != nil {
		return "", "", fmt.Errorf("storage: encode thumbnail: %w", err)
	}
	thumbKey, err = s.files.Write(ctx, fmt.Sprintf("%s/%s_thumb.png", prefix, renderID), small.Bytes())
	if err != nil {
		return "", "", err
	}
	return imageKey, thumbKey, nil
}

// SaveInput stores a user-supplied source image for image-to-image renders.
// The upload is decoded and re-encoded as PNG so only valid images enter the
// store, under a key scoped to the uploading user.
func (s *ArtifactStore) SaveInput(ctx context.Context, userID string, data []byte) (string, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("storage: decode input image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return "", fmt.Errorf("storage: encode input image: %w", err)
	}
	return s.files.Write(ctx, fmt.Sprintf("inputs/%s/%s.png", userID, uuid.NewString()), buf.Bytes())
}

// ReadArtifact returns stored bytes by key, for serving and zip export.
func (s *ArtifactStore) ReadArtifact(ctx context.Context, key string) ([]byte, error) {
	return s.files.Read(ctx, key)
}
