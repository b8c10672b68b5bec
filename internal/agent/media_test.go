package agent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadImagesSkipsUnsupportedExtensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	images := loadImages([]string{path})
	if images != nil {
		t.Fatalf("expected no images for an unsupported extension, got %+v", images)
	}
}

func TestLoadImagesEncodesSupportedImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	if err := os.WriteFile(path, []byte("fake-png-bytes"), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	images := loadImages([]string{path})
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
	if images[0].MimeType != "image/png" {
		t.Fatalf("expected image/png, got %q", images[0].MimeType)
	}
	if images[0].Data == "" {
		t.Fatal("expected non-empty base64 data")
	}
}

func TestLoadImagesSkipsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "huge.jpg")
	if err := os.WriteFile(path, make([]byte, maxVisionImageBytes+1), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	images := loadImages([]string{path})
	if images != nil {
		t.Fatalf("expected an oversized image to be skipped, got %+v", images)
	}
}

func TestLoadImagesReturnsNilForEmptyInput(t *testing.T) {
	if images := loadImages(nil); images != nil {
		t.Fatalf("expected nil for no paths, got %+v", images)
	}
}
