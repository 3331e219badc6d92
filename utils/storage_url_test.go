package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestObjectAccessURLRoundTrip(t *testing.T) {
	key := "proofs/March-2025/0001/3f2a.png"
	cases := []struct {
		name string
		base string
	}{
		{"bucket", ""},
		{"base", "https://cdn.example.com/files/"},
		{"placeholder", "https://cdn.example.com/get?objectKey={objectKey}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("GCS_BUCKET", "hoa-proofs")
			t.Setenv("STORAGE_ACCESS_BASE_URL", tc.base)
			ref := BuildObjectAccessURL(key)
			if got := ExtractObjectKeyFromURL(ref); got != key {
				t.Fatalf("ref %q resolved to %q, want %q", ref, got, key)
			}
		})
	}
}

func TestExtractObjectKeyFromURL(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	cases := map[string]string{
		"gs://hoa-proofs/proofs/a.png":                        "proofs/a.png",
		"https://hoa-proofs.storage.googleapis.com/proofs/a.png": "proofs/a.png",
		"https://storage.cloud.google.com/hoa-proofs/proofs/a.png": "proofs/a.png",
		"proofs/a.png":           "proofs/a.png",
		"proofs/../secrets.json": "",
		"https://example.com/x":  "",
		"":                       "",
	}
	for ref, want := range cases {
		if got := ExtractObjectKeyFromURL(ref); got != want {
			t.Errorf("ExtractObjectKeyFromURL(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestProofContentTypeAndThumbnail(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	img.Set(10, 10, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	contentType, ext, ok := DetectProofContentType(buf.Bytes())
	if !ok || contentType != "image/png" || ext != ".png" {
		t.Fatalf("got %q %q %v", contentType, ext, ok)
	}
	if _, _, ok := DetectProofContentType([]byte("plain text receipt")); ok {
		t.Fatalf("text must not be accepted as proof")
	}

	thumb, err := MakeThumbnail(buf.Bytes())
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if w := decoded.Bounds().Dx(); w != thumbnailWidth {
		t.Fatalf("thumbnail width %d, want %d", w, thumbnailWidth)
	}
	if got := ThumbnailObjectKey("proofs/March-2025/0001/3f2a.png"); got != "proofs/March-2025/0001/3f2a_thumb.jpg" {
		t.Fatalf("thumbnail key %q", got)
	}
}
