package agentrunner

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

func TestMaterializeImagesWritesDecodedFiles(t *testing.T) {
	root := t.TempDir()
	payload := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	images := []protocol.ImageAttachment{
		{Name: "a.png", Data: "data:image/png;base64," + payload, MimeType: "image/png"},
		{Name: "bad.png", Data: "not-a-data-uri"},
	}

	paths, dir, err := materializeImages(root, images, 1234)
	if err != nil {
		t.Fatalf("materializeImages: %v", err)
	}
	defer cleanupImages(dir)

	if len(paths) != 1 {
		t.Fatalf("expected 1 written path (malformed skipped), got %d", len(paths))
	}
	if filepath.Base(paths[0]) != "image_0.png" {
		t.Fatalf("expected image_0.png, got %s", filepath.Base(paths[0]))
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "fake-png-bytes" {
		t.Fatalf("expected decoded content, got %q", string(data))
	}
}

func TestMaterializeImagesCleanup(t *testing.T) {
	root := t.TempDir()
	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	images := []protocol.ImageAttachment{{Name: "a.png", Data: "data:image/png;base64," + payload}}

	_, dir, err := materializeImages(root, images, 999)
	if err != nil {
		t.Fatal(err)
	}
	cleanupImages(dir)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected temp dir to be removed after cleanup")
	}
}

func TestMaterializeImagesNoop(t *testing.T) {
	paths, dir, err := materializeImages(t.TempDir(), nil, 1)
	if err != nil || paths != nil || dir != "" {
		t.Fatalf("expected no-op for empty images, got paths=%v dir=%q err=%v", paths, dir, err)
	}
}
