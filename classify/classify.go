// Package classify holds the pure predicates that decide whether a string is
// an image reference, what MIME type it carries and what file name should
// represent it. Nothing here touches the page.
package classify

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultMIME and DefaultExt are used when a source carries no recognisable type.
const (
	DefaultMIME = "image/png"
	DefaultExt  = "png"
)

var extMIME = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"jfif": "image/jpeg",
	"png":  "image/png",
	"apng": "image/apng",
	"gif":  "image/gif",
	"webp": "image/webp",
	"avif": "image/avif",
	"svg":  "image/svg+xml",
	"bmp":  "image/bmp",
	"ico":  "image/x-icon",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
}

var mimeExt = map[string]string{
	"image/jpeg":               "jpg",
	"image/jpg":                "jpg",
	"image/pjpeg":              "jpg",
	"image/png":                "png",
	"image/apng":               "apng",
	"image/gif":                "gif",
	"image/webp":               "webp",
	"image/avif":               "avif",
	"image/svg+xml":            "svg",
	"image/bmp":                "bmp",
	"image/x-icon":             "ico",
	"image/vnd.microsoft.icon": "ico",
	"image/tiff":               "tiff",
}

var (
	base64ImageRe = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,([A-Za-z0-9+/]+={0,2})$`)

	// CDN-style URLs without an extension, e.g. ?image=123 or ?fm=webp.
	imageParamRe = regexp.MustCompile(`(?i)[?&][^=&#]*(?:image|img)[^=&#]*=|[?&](?:format|fm|ext)=(?:jpe?g|png|gif|webp|avif)\b`)
)

// LooksLikeImageSource reports whether s is plausibly an image reference:
// a known image extension on the path, a data:image/ URI, a blob: URI, or an
// image-ish query parameter.
func LooksLikeImageSource(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "data:image/") || strings.HasPrefix(lower, "blob:") {
		return true
	}
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") {
		return false
	}
	if _, ok := extMIME[Extension(s)]; ok {
		return true
	}
	return imageParamRe.MatchString(s)
}

// IsBase64Image reports whether s is a complete data:image/<subtype>;base64,
// URI with a non-empty, well-formed base64 body.
func IsBase64Image(s string) bool {
	m := base64ImageRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	return len(m[1])%4 == 0
}

// ErrNotBase64Image is returned by DecodeBase64Image for anything
// IsBase64Image rejects.
var ErrNotBase64Image = errors.New("classify: not a base64 image")

// DecodeBase64Image returns the declared type and decoded payload of a
// data:image/...;base64, URI.
func DecodeBase64Image(s string) (mimeType string, data []byte, err error) {
	m := base64ImageRe.FindStringSubmatch(s)
	if m == nil || len(m[1])%4 != 0 {
		return "", nil, ErrNotBase64Image
	}
	data, err = base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", nil, fmt.Errorf("classify: decode: %w", err)
	}
	mimeType, _ = dataMIME(s)
	return mimeType, data, nil
}

// IsDataImage reports whether s is a usable data:image/ URI. Payloads
// declared ;base64, must pass IsBase64Image; any other payload, such as
// percent-encoded or raw SVG markup, only has to be non-empty.
func IsDataImage(s string) bool {
	mt, b64, body, ok := splitData(s)
	if !ok || !strings.HasPrefix(mt, "image/") {
		return false
	}
	if b64 {
		return IsBase64Image(s)
	}
	return strings.TrimSpace(body) != ""
}

// DecodeDataImage returns the declared type and payload of any URI accepted
// by IsDataImage. Non-base64 payloads are percent-decoded; a payload with a
// stray % is returned as written.
func DecodeDataImage(s string) (mimeType string, data []byte, err error) {
	if !IsDataImage(s) {
		return "", nil, ErrNotDataImage
	}
	mt, b64, body, _ := splitData(s)
	if b64 {
		return DecodeBase64Image(s)
	}
	if dec, err := url.PathUnescape(body); err == nil {
		body = dec
	}
	return mt, []byte(body), nil
}

// ErrNotDataImage is returned by DecodeDataImage for anything IsDataImage rejects.
var ErrNotDataImage = errors.New("classify: not a data:image URI")

// splitData splits data:<type>[;params],<body>. b64 is set when a parameter
// is base64.
func splitData(s string) (mimeType string, b64 bool, body string, ok bool) {
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return "", false, "", false
	}
	head, body, found := strings.Cut(s[5:], ",")
	if !found {
		return "", false, "", false
	}
	params := strings.Split(head, ";")
	mimeType = strings.ToLower(strings.TrimSpace(params[0]))
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			b64 = true
		}
	}
	return mimeType, b64, body, true
}

// MimeType returns the declared type of a data: URI, or the type mapped from
// the file extension, or DefaultMIME.
func MimeType(s string) string {
	if declared, ok := dataMIME(s); ok {
		return declared
	}
	if m, ok := extMIME[Extension(s)]; ok {
		return m
	}
	return DefaultMIME
}

// Extension returns the lower-case extension of the last path segment of s,
// ignoring query and fragment. It returns "" for data: URIs.
func Extension(s string) string {
	seg := lastSegment(s)
	i := strings.LastIndexByte(seg, '.')
	if i < 0 || i == len(seg)-1 {
		return ""
	}
	return strings.ToLower(seg[i+1:])
}

// ExtensionForMIME maps a MIME type to a file extension, DefaultExt when unknown.
func ExtensionForMIME(mime string) string {
	if ext, ok := mimeExt[strings.ToLower(mime)]; ok {
		return ext
	}
	return DefaultExt
}

// IsImageExtension reports whether ext (without dot) is a recognised image extension.
func IsImageExtension(ext string) bool {
	_, ok := extMIME[strings.ToLower(ext)]
	return ok
}

func dataMIME(s string) (string, bool) {
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return "", false
	}
	rest := s[5:]
	end := strings.IndexAny(rest, ";,")
	if end < 0 {
		end = len(rest)
	}
	m := strings.ToLower(strings.TrimSpace(rest[:end]))
	if m == "" {
		return DefaultMIME, true
	}
	return m, true
}

// lastSegment returns the unescaped last path segment of s. Scheme, query and
// fragment are stripped; blob: and other opaque URIs use their opaque part.
func lastSegment(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 5 && strings.EqualFold(s[:5], "data:") {
		return ""
	}
	p := s
	if u, err := url.Parse(s); err == nil {
		p = u.Path
		if p == "" {
			p = u.Opaque
		}
	} else {
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
	}
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	return p
}
