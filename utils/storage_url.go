package utils

import (
	"net/url"
	"os"
	"strings"
)

const gcsPublicHost = "storage.googleapis.com"

// BuildObjectAccessURL turns a proof object key into the reference stored on a contribution record.
// STORAGE_ACCESS_BASE_URL may contain "{objectKey}"; otherwise the public GCS URL of GCS_BUCKET is used.
func BuildObjectAccessURL(objectKey string) string {
	if base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL")); base != "" {
		if strings.Contains(base, "{objectKey}") {
			return strings.ReplaceAll(base, "{objectKey}", url.PathEscape(objectKey))
		}
		return strings.TrimRight(base, "/") + "/" + objectKey
	}
	if bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET")); bucket != "" {
		return "https://" + gcsPublicHost + "/" + bucket + "/" + objectKey
	}
	return objectKey
}

// ExtractObjectKeyFromURL reverses BuildObjectAccessURL. It returns "" for references it cannot resolve.
func ExtractObjectKeyFromURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.Contains(ref, "..") {
		return ""
	}
	if !strings.Contains(ref, "://") {
		return strings.TrimPrefix(ref, "/")
	}
	if strings.HasPrefix(ref, "gs://") {
		parts := strings.SplitN(strings.TrimPrefix(ref, "gs://"), "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	}

	if base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL")); base != "" {
		if prefix, suffix, ok := strings.Cut(base, "{objectKey}"); ok {
			if strings.HasPrefix(ref, prefix) && strings.HasSuffix(ref, suffix) {
				key := strings.TrimSuffix(strings.TrimPrefix(ref, prefix), suffix)
				if decoded, err := url.PathUnescape(key); err == nil {
					return decoded
				}
				return key
			}
		} else if prefix := strings.TrimRight(base, "/") + "/"; strings.HasPrefix(ref, prefix) {
			return strings.TrimPrefix(ref, prefix)
		}
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Host)
	p := strings.TrimPrefix(parsed.Path, "/")
	switch {
	case host == gcsPublicHost || host == "storage.cloud.google.com":
		if _, key, ok := strings.Cut(p, "/"); ok {
			return key
		}
	case strings.HasSuffix(host, "."+gcsPublicHost):
		return p
	}
	return ""
}
