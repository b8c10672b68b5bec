package agent

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/relaycrew/gatewaycore/internal/providers"
)

// maxVisionImageBytes bounds a single attachment read into memory for a
// vision-capable provider call; larger files are skipped rather than
// risking a multi-megabyte base64 blob inflating the request payload.
const maxVisionImageBytes = 10 * 1024 * 1024

// imageMimeByExt maps the attachment extensions a channel plugin can
// hand off in RunRequest.ImagePaths to the MIME type a vision-capable
// provider expects in ImageContent.
var imageMimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// loadImages reads local image attachments off disk and encodes each as
// a providers.ImageContent for inclusion in a ChatRequest. An
// attachment that isn't a recognized image type, can't be read, or
// exceeds maxVisionImageBytes is skipped with a warning rather than
// failing the whole turn.
func loadImages(paths []string) []providers.ImageContent {
	if len(paths) == 0 {
		return nil
	}

	images := make([]providers.ImageContent, 0, len(paths))
	for _, p := range paths {
		mime, ok := imageMimeByExt[strings.ToLower(filepath.Ext(p))]
		if !ok {
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("vision: failed to read image attachment", "path", p, "error", err)
			continue
		}
		if len(data) > maxVisionImageBytes {
			slog.Warn("vision: image attachment too large, skipping", "path", p, "size", len(data))
			continue
		}

		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	if len(images) == 0 {
		return nil
	}
	return images
}
