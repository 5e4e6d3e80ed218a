package zpak

import "github.com/meigma/zpak/internal/safepath"

// NormalizePath converts a user-provided path to the canonical
// slash-separated relative form used by image metadata.
//
// It performs the following transformations:
//   - Strips leading slashes: "/etc/nginx" → "etc/nginx"
//   - Strips trailing slashes: "etc/nginx/" → "etc/nginx"
//   - Collapses consecutive slashes: "etc//nginx" → "etc/nginx"
//   - Converts empty string to root: "" → "."
//
// Normalize does not validate elements; paths containing "." or ".."
// elements are preserved and rejected by CheckPath and by all Image
// methods.
func NormalizePath(p string) string {
	return safepath.Normalize(p)
}

// CheckPath validates a slash-separated relative path for use inside
// an image. It returns an error wrapping ErrPathRejected for absolute
// paths, drive-qualified paths, parent-directory segments, embedded
// NUL bytes, and reserved device names. This is the same check
// applied when building metadata and again, defensively, before any
// extraction write.
func CheckPath(p string) error {
	return safepath.CheckRel(p)
}
