package capabilities

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidKey is returned for keys that are empty or leave the module's area
var ErrInvalidKey = errors.New("invalid file key")

// ModulePrefix is the storage prefix of a module's files
func ModulePrefix(module string) string {
	return "modules/" + module + "/"
}

// cleanKey normalizes a module-relative key
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the module area", ErrInvalidKey, key)
	}
	return cleaned, nil
}
