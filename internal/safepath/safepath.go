// Package safepath validates the relative paths recorded in image
// metadata. Sanitization happens at build time and is re-checked on
// extraction, since a container may originate from an untrusted
// source: a crafted entry must never cause a write outside the
// declared output root.
package safepath

import (
	"fmt"
	"strings"

	"github.com/meigma/zpak/internal/imagetype"
)

// reservedNames are Windows device names that cannot be created as
// regular files or directories. Comparison is case-insensitive and
// ignores any extension ("CON.txt" is still reserved).
var reservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// CheckName validates a single path element. It rejects empty names,
// ".", "..", embedded separators (forward or backward slash), NUL
// bytes, and reserved device names.
func CheckName(name string) error {
	switch name {
	case "":
		return fmt.Errorf("%w: empty path element", imagetype.ErrPathRejected)
	case ".", "..":
		return fmt.Errorf("%w: %q path element", imagetype.ErrPathRejected, name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a separator or NUL", imagetype.ErrPathRejected, name)
	}
	base := strings.ToLower(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if _, ok := reservedNames[base]; ok {
		return fmt.Errorf("%w: %q is a reserved device name", imagetype.ErrPathRejected, name)
	}
	return nil
}

// CheckRel validates a slash-separated relative path: every element
// must pass CheckName and the path must not be absolute. "."
// (the root itself) is rejected; use it only as a tree anchor.
func CheckRel(path string) error {
	if path == "" || path == "." {
		return fmt.Errorf("%w: empty path", imagetype.ErrPathRejected)
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return fmt.Errorf("%w: absolute path %q", imagetype.ErrPathRejected, path)
	}
	// Drive-letter absolute paths ("C:...") escape on Windows.
	if len(path) >= 2 && path[1] == ':' {
		return fmt.Errorf("%w: drive-qualified path %q", imagetype.ErrPathRejected, path)
	}
	for _, element := range strings.Split(path, "/") {
		if err := CheckName(element); err != nil {
			return fmt.Errorf("%q: %w", path, err)
		}
	}
	return nil
}

// Normalize converts a user-provided path to the canonical relative
// form used by image metadata: leading and trailing slashes are
// stripped and consecutive slashes collapse. The empty string and "/"
// normalize to ".". Normalize does not validate elements; pair it
// with CheckRel.
func Normalize(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}
	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return "."
	}
	return strings.Join(result, "/")
}
