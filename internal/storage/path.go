package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

const (
	ExtParquet = "parquet"
	ExtJSON    = "json"
)

// BuildResultKey returns the object key of a query result:
// <prefix><request id>.<ext>.
func BuildResultKey(prefix, requestID, ext string) (string, error) {
	if err := validatePathComponent(requestID, "request id"); err != nil {
		return "", err
	}
	switch ext {
	case ExtParquet, ExtJSON:
	default:
		return "", fmt.Errorf("unsupported result extension %q", ext)
	}
	prefix = CleanPrefix(prefix)
	name := requestID + "." + ext
	if prefix == "" {
		return name, nil
	}
	return prefix + "/" + name, nil
}

// CleanPrefix trims slashes and whitespace and collapses the prefix.
func CleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}
	return prefix
}

// ValidateKey rejects empty keys and keys escaping their bucket root.
func ValidateKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return cleaned, nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
