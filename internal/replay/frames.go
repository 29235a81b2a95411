package replay

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"
)

const frameJPEGQuality = 90

type capturedFrame struct {
	logID  int64
	data   []byte
	format string
}

// frameFormat names the image format of a frame. Sniffed bytes win over the
// recorded mime type.
func frameFormat(data []byte, mimeType string) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	}
	return frameExtension(mimeType)
}

func frameExtension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// sequenceFormat picks the one extension a segment's frames are written with.
// The image2 demuxer decodes by extension, so mixed segments become JPEG.
func sequenceFormat(frames []capturedFrame) string {
	if len(frames) == 0 {
		return ""
	}
	first := frames[0].format
	for _, f := range frames[1:] {
		if f.format != first {
			return "jpg"
		}
	}
	return first
}

// toJPEG re-encodes a PNG or WebP frame.
func toJPEG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: frameJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
