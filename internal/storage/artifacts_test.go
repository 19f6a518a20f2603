package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestSaveRenderWritesImageAndThumbnail(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	store := NewArtifactStore(files)
	at := time.Date(2026, time.August, 12, 10, 0, 0, 0, time.UTC)

	imageKey, thumbKey, err := store.SaveRender(context.Background(), "render-1", at, testPNG(t, 640, 480))
	if err != nil {
		t.Fatalf("SaveRender() error: %v", err)
	}
	if imageKey != "renders/2026/08/render-1.png" {
		t.Fatalf("imageKey = %q", imageKey)
	}
	if thumbKey != "renders/2026/08/render-1_thumb.png" {
		t.Fatalf("thumbKey = %q", thumbKey)
	}

	full, err := store.ReadArtifact(context.Background(), imageKey)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if cfg, err := png.DecodeConfig(bytes.NewReader(full)); err != nil || cfg.Width != 640 {
		t.Fatalf("full image decode: cfg=%+v err=%v", cfg, err)
	}

	thumb, err := store.ReadArtifact(context.Background(), thumbKey)
	if err != nil {
		t.Fatalf("read thumbnail: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("thumbnail decode: %v", err)
	}
	if cfg.Width != 200 || cfg.Height != 200 {
		t.Fatalf("thumbnail = %dx%d, want 200x200", cfg.Width, cfg.Height)
	}
}

func TestSaveRenderRejectsGarbage(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	store := NewArtifactStore(files)
	if _, _, err := store.SaveRender(context.Background(), "render-1", time.Now(), []byte("not an image")); err == nil {
		t.Fatal("SaveRender() with non-image bytes should fail")
	}
}

func TestFileStoreKeySanitization(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	ctx := context.Background()
	if _, err := files.Write(ctx, "../escape.txt", []byte("x")); err == nil {
		t.Fatal("traversal key should be rejected")
	}
	key, err := files.Write(ctx, "/renders/a.png", []byte("x"))
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if key != "renders/a.png" {
		t.Fatalf("canonical key = %q", key)
	}
	got, err := files.Read(ctx, key)
	if err != nil || string(got) != "x" {
		t.Fatalf("Read() = %q, %v", got, err)
	}
	if _, err := files.Read(ctx, "renders/missing.png"); err == nil {
		t.Fatal("missing key should fail")
	}
}

func TestSaveInputScopesKeyToUser(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	store := NewArtifactStore(files)

	key, err := store.SaveInput(context.Background(), "user-1", testPNG(t, 320, 240))
	if err != nil {
		t.Fatalf("SaveInput() error: %v", err)
	}
	if !strings.HasPrefix(key, "inputs/user-1/") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("key = %q, want inputs/user-1/<id>.png", key)
	}

	data, err := store.ReadArtifact(context.Background(), key)
	if err != nil {
		t.Fatalf("ReadArtifact() error: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width != 320 || cfg.Height != 240 {
		t.Fatalf("stored input decode: cfg=%+v err=%v", cfg, err)
	}
}

func TestSaveInputRejectsNonImage(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	store := NewArtifactStore(files)

	if _, err := store.SaveInput(context.Background(), "user-1", []byte("not an image")); err == nil {
		t.Fatal("SaveInput() accepted a non-image body")
	}
}
