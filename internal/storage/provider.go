// Package storage abstracts the cloud document store behind a Provider
// interface with two reference implementations: a local filesystem provider
// and a Supabase Storage provider. All access goes through the vault engine;
// nothing else in the runtime touches a Provider directly.
package storage

import (
	"context"
	"errors"
	"time"
)

// Error classes. Providers must map their wire failures onto these so callers
// can tell a retryable outage from fatal misconfiguration.
var (
	// ErrNotFound means the referenced path does not exist.
	ErrNotFound = errors.New("storage: file not found")
	// ErrUnavailable is a transient network or service failure; callers may
	// retry.
	ErrUnavailable = errors.New("storage: provider unavailable")
	// ErrMisconfigured means credentials or configuration are broken; this
	// aborts startup rather than being retried.
	ErrMisconfigured = errors.New("storage: provider misconfigured")
)

// File describes one stored object or folder.
type File struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Mime       string    `json:"mime,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
	IsFolder   bool      `json:"is_folder"`
}

// Provider is the abstract cloud-storage collaborator. CreateFolder must be
// idempotent. Implementations are safe for concurrent use.
type Provider interface {
	UploadFile(ctx context.Context, data []byte, destPath, filename, mime string) (*File, error)
	DownloadFile(ctx context.Context, path string) ([]byte, error)
	DeleteFile(ctx context.Context, path string) (bool, error)
	ListFiles(ctx context.Context, folder string, recursive bool) ([]*File, error)
	FileExists(ctx context.Context, path string) (bool, error)
	CreateFolder(ctx context.Context, path string) (bool, error)
}
