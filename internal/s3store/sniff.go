package s3store

import (
	"mime"
	"net/http"
	"strings"
)

const sniffLen = 512

var formats = map[string]string{
	"image/png":       "png",
	"image/jpeg":      "jpg",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"image/bmp":       "bmp",
	"image/x-icon":    "ico",
	"image/svg+xml":   "svg",
	"video/mp4":       "mp4",
	"video/webm":      "webm",
	"audio/mpeg":      "mp3",
	"application/pdf": "pdf",
	"font/woff":       "woff",
	"font/woff2":      "woff2",
}

// sniff detects the content type of the first bytes of an object.
func sniff(head []byte) string {
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	ct := http.DetectContentType(head)
	// DetectContentType reports SVG as XML
	if strings.HasPrefix(ct, "text/xml") && strings.Contains(string(head), "<svg") {
		return "image/svg+xml"
	}
	return ct
}

func formatOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if f, ok := formats[mt]; ok {
		return f
	}
	return ""
}

// resourceTypeOf mirrors the image/video/raw split used by media hosts.
func resourceTypeOf(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"), strings.HasPrefix(contentType, "audio/"):
		return "video"
	default:
		return "raw"
	}
}
