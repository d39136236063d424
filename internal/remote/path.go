package remote

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned for paths or keys the store cannot hold.
var ErrInvalidPath = errors.New("invalid path")

const forbiddenKeyChars = ".$#[]/"

// CleanPath trims surrounding slashes and validates every segment. The root
// path is the empty string.
func CleanPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	for _, seg := range strings.Split(p, "/") {
		if err := CheckKey(seg); err != nil {
			return "", fmt.Errorf("%w %q: %v", ErrInvalidPath, p, err)
		}
	}
	return p, nil
}

// CheckKey validates a single path segment.
func CheckKey(k string) error {
	if k == "" {
		return errors.New("empty segment")
	}
	if strings.ContainsAny(k, forbiddenKeyChars) {
		return fmt.Errorf("key %q contains one of %q", k, forbiddenKeyChars)
	}
	for _, r := range k {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("key %q contains a control character", k)
		}
	}
	return nil
}

// Segments splits a clean path. The root has no segments.
func Segments(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Join builds a path from parts, skipping empty ones.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// Related reports whether a change at one path can affect the value at the
// other, i.e. whether one is an ancestor of (or equal to) the other.
func Related(a, b string) bool {
	return isAncestor(a, b) || isAncestor(b, a)
}

func isAncestor(parent, child string) bool {
	if parent == "" || parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}
