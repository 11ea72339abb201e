package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

// Extension returns the lower-cased extension of filename without the dot,
// or "bin" when there is none.
func Extension(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}

// ContentType guesses the MIME type from the extension.
func ContentType(ext string) string {
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Downscale shrinks JPEG, PNG and GIF images wider than maxWidth, keeping
// the aspect ratio and the original format. Other formats, and images that
// already fit, are returned unchanged. maxWidth 0 disables resizing.
func Downscale(data []byte, ext string, maxWidth uint) ([]byte, error) {
	if maxWidth == 0 {
		return data, nil
	}
	switch ext {
	case "jpg", "jpeg", "png", "gif":
	default:
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read image header: %w", err)
	}
	if uint(cfg.Width) <= maxWidth {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	scaled := resize.Resize(maxWidth, 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	switch ext {
	case "png":
		err = png.Encode(&buf, scaled)
	case "gif":
		err = gif.Encode(&buf, scaled, nil)
	default:
		err = jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
