package media

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// imageExts are the lowercased extensions a scan treats as images. Only the
// name is inspected; content is never sniffed.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".webp": true, ".bmp": true, ".gif": true,
}

// IsImage reports whether path carries one of the supported image
// extensions, compared case-insensitively.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Extensions returns the supported extensions without the leading dot.
func Extensions() []string {
	return []string{"png", "jpg", "jpeg", "webp", "bmp", "gif"}
}

// Decode decodes an image from its raw file bytes, applying the EXIF
// orientation when present so rotated copies of a photo decode identically.
func Decode(data []byte) (img image.Image, err error) {
	// Some decoders panic on crafted input instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("decode image: panic: %v", r)
		}
	}()

	img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
