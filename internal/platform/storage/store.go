package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Open when no object exists at the path.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path        string
	ContentType string
	Size        int64
	UpdatedAt   time.Time
}

// Store is the file store report exports are written to.
type Store interface {
	Write(ctx context.Context, path string, contentType string, body io.Reader) error
	Exists(ctx context.Context, path string) (bool, error)
	Open(ctx context.Context, path string) (io.ReadCloser, ObjectInfo, error)
}

// ReportObjectPath returns the object key of a report export.
func ReportObjectPath(reportID string) (string, error) {
	id, err := validateSegment("reportID", reportID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reports/report_%s.xlsx", id), nil
}

// cleanPath rejects empty, absolute and traversing keys.
func cleanPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("storage: path is required")
	}
	if strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return "", fmt.Errorf("storage: path %q must be relative", path)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("storage: path %q contains invalid segment", path)
		}
	}
	return path, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
