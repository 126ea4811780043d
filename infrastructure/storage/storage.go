// Package storage provides the blob and instruction stores used by the
// audit service: a local filesystem or S3 bucket for evidence images and
// reports, and SQLite for compiled control instructions.
package storage

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/ahrav/go-warden/internal/ports"
)

// Type represents the blob storage backend type.
type Type string

// Supported blob storage backends.
const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// Config holds configuration for blob storage.
type Config struct {
	Type      Type   `yaml:"type" validate:"required,oneof=local s3"`
	LocalPath string `yaml:"local_path" validate:"required_if=Type local"`
	S3Bucket  string `yaml:"s3_bucket" validate:"required_if=Type s3"`
	S3Region  string `yaml:"s3_region"`
	// S3Endpoint points the client at an S3-compatible service.
	S3Endpoint   string `yaml:"s3_endpoint"`
	AWSAccessKey string `yaml:"-"`
	AWSSecretKey string `yaml:"-"`
}

// ErrInvalidKey is returned for keys that are empty or escape the store
// root.
var ErrInvalidKey = errors.New("invalid object key")

// NewBlobStore creates a blob store based on configuration.
func NewBlobStore(cfg Config) (ports.BlobStore, error) {
	switch cfg.Type {
	case TypeLocal:
		return NewLocalStore(cfg.LocalPath)
	case TypeS3:
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// cleanKey normalizes a slash-separated key and rejects keys that are
// empty, absolute or climb out of the root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// SanitizeName makes a user-supplied file name safe to use as one key
// segment.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	r := strings.NewReplacer(" ", "_", "/", "_", "..", "_")
	name = r.Replace(name)
	if name == "" || name == "." {
		return "file"
	}
	return name
}

// ContentTypeFor determines a content type from a key's extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
