package utils

import (
	"bytes"
	"net/http"
	"path"
	"strings"

	"github.com/disintegration/imaging"
)

const thumbnailWidth = 200

var proofMimeTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// DetectProofContentType sniffs data and reports whether it is an accepted proof type.
func DetectProofContentType(data []byte) (contentType string, ext string, ok bool) {
	contentType = http.DetectContentType(data)
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok = proofMimeTypes[contentType]
	return contentType, ext, ok
}

func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// MakeThumbnail returns a 200px wide JPEG preview of an image.
func MakeThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumbnail := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ThumbnailObjectKey derives "a/b/c_thumb.jpg" from "a/b/c.png".
func ThumbnailObjectKey(objectKey string) string {
	ext := path.Ext(objectKey)
	return strings.TrimSuffix(objectKey, ext) + "_thumb.jpg"
}
