package agentrunner

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

var dataURIPattern = regexp.MustCompile(`^data:([\w./+-]+);base64,(.+)$`)

var mimeExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
}

// materializeImages decodes each attachment's data URI and writes it
// under realCwd/.tmp/images/<nowMs>/image_<index>.<ext>, returning the
// absolute paths written so the caller can embed them in the prompt
// and clean them up later. Malformed URIs are skipped with a log
//.
func materializeImages(realCwd string, images []protocol.ImageAttachment, nowMs int64) (paths []string, dir string, err error) {
	if len(images) == 0 {
		return nil, "", nil
	}

	dir = filepath.Join(realCwd, ".tmp", "images", fmt.Sprintf("%d", nowMs))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}

	for i, img := range images {
		match := dataURIPattern.FindStringSubmatch(img.Data)
		if match == nil {
			slog.Warn("agentrunner: skipping malformed image data URI", "name", img.Name)
			continue
		}
		mime, payload := match[1], match[2]
		raw, decodeErr := base64.StdEncoding.DecodeString(payload)
		if decodeErr != nil {
			slog.Warn("agentrunner: skipping image with undecodable base64", "name", img.Name)
			continue
		}
		ext := mimeExtensions[mime]
		if ext == "" {
			ext = "bin"
		}
		path := filepath.Join(dir, fmt.Sprintf("image_%d.%s", i, ext))
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			slog.Warn("agentrunner: failed to write image", "name", img.Name, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths, dir, nil
}

// cleanupImages removes the temp directory created by materializeImages.
func cleanupImages(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("agentrunner: failed to clean up image temp dir", "dir", dir, "error", err)
	}
}
