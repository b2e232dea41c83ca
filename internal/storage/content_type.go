package storage

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// =============================================================================
// Content Type Detection
// =============================================================================

// DetectContentType determines the MIME type of a file.
//
// Detection priority:
// 1. If providedType is non-empty, use it directly
// 2. Try to detect from file extension using mime.TypeByExtension
// 3. Sniff content from the first 512 bytes of data (if available)
// 4. Fall back to "application/octet-stream"
func DetectContentType(providedType, filename string, data io.Reader) string {
	// 1. Use provided type if available
	if providedType != "" {
		return providedType
	}

	// 2. Try extension-based detection
	ext := strings.ToLower(filepath.Ext(filename))
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}

	// 3. Try content sniffing if data is available
	if data != nil {
		// Read up to 512 bytes for sniffing (http.DetectContentType requirement)
		buffer := make([]byte, 512)
		n, err := io.ReadFull(data, buffer)
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return http.DetectContentType(buffer[:n])
		}
	}

	// 4. Fall back to generic binary type
	return "application/octet-stream"
}

// =============================================================================
// Content Type Validation
// =============================================================================

// AllowedScreenshotTypes defines the MIME types accepted for conversation
// screenshot uploads.
var AllowedScreenshotTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true, // Some systems use this instead of image/jpeg
	"image/png":  true,
	"image/webp": true,
	"image/heic": true, // iPhone screenshots
	"image/heif": true, // High Efficiency Image Format
}

// IsAllowedScreenshotType checks if a content type is an accepted image
// format for screenshot uploads.
func IsAllowedScreenshotType(contentType string) bool {
	// Normalize the content type (remove parameters like charset)
	baseType := strings.Split(contentType, ";")[0]
	baseType = strings.TrimSpace(strings.ToLower(baseType))
	return AllowedScreenshotTypes[baseType]
}

// extensionForContentType returns a common file extension for a MIME type.
// This is useful when generating storage keys from content types.
func extensionForContentType(contentType string) string {
	baseType := strings.Split(contentType, ";")[0]
	baseType = strings.TrimSpace(strings.ToLower(baseType))

	// Common mappings
	extensions := map[string]string{
		"image/jpeg": ".jpg",
		"image/jpg":  ".jpg",
		"image/png":  ".png",
		"image/webp": ".webp",
		"image/heic": ".heic",
		"image/heif": ".heif",
	}

	if ext, ok := extensions[baseType]; ok {
		return ext
	}

	// Fall back to the mime package's reverse lookup
	exts, err := mime.ExtensionsByType(contentType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}

	return ".bin"
}
