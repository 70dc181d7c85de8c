package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseProvider stores documents in a Supabase Storage bucket. Paths map
// onto object keys; folders are implicit prefixes, so CreateFolder succeeds
// without a remote call.
type SupabaseProvider struct {
	client *storage_go.Client
	bucket string
}

// NewSupabaseProvider connects using the project URL and service key.
// Missing credentials are a fatal misconfiguration, not a transient failure.
func NewSupabaseProvider(url, serviceKey, bucket string) (*SupabaseProvider, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("%w: supabase url and service key must be set", ErrMisconfigured)
	}
	if bucket == "" {
		bucket = "documents"
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: supabase client: %v", ErrMisconfigured, err)
	}
	return &SupabaseProvider{client: client.Storage, bucket: bucket}, nil
}

func objectKey(providerPath string) string {
	return strings.TrimPrefix(path.Clean("/"+providerPath), "/")
}

func (p *SupabaseProvider) UploadFile(ctx context.Context, data []byte, destPath, filename, mimeType string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := objectKey(path.Join(destPath, filename))
	if mimeType == "" {
		mimeType = detectMime(filename, data)
	}
	upsert := true
	_, err := p.client.UploadFile(p.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &mimeType,
		Upsert:      &upsert,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %v", ErrUnavailable, key, err)
	}
	return &File{
		ID:         key,
		Name:       filename,
		Path:       "/" + key,
		Size:       int64(len(data)),
		Mime:       mimeType,
		ModifiedAt: time.Now().UTC(),
	}, nil
}

func (p *SupabaseProvider) DownloadFile(ctx context.Context, providerPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := objectKey(providerPath)
	data, err := p.client.DownloadFile(p.bucket, key)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, providerPath)
		}
		return nil, fmt.Errorf("%w: download %s: %v", ErrUnavailable, key, err)
	}
	return data, nil
}

func (p *SupabaseProvider) DeleteFile(ctx context.Context, providerPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := objectKey(providerPath)
	if _, err := p.client.RemoveFile(p.bucket, []string{key}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return true, nil
}

func (p *SupabaseProvider) ListFiles(ctx context.Context, folder string, recursive bool) ([]*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.list(ctx, objectKey(folder), recursive)
}

func (p *SupabaseProvider) list(ctx context.Context, prefix string, recursive bool) ([]*File, error) {
	objects, err := p.client.ListFiles(p.bucket, prefix, storage_go.FileSearchOptions{Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, prefix, err)
	}

	var out []*File
	for _, obj := range objects {
		full := path.Join(prefix, obj.Name)
		// Supabase returns folder placeholders with an empty object id.
		isFolder := obj.Id == ""
		f := &File{
			ID:       obj.Id,
			Name:     obj.Name,
			Path:     "/" + full,
			IsFolder: isFolder,
		}
		if f.ID == "" {
			f.ID = full
		}
		if ts, err := time.Parse(time.RFC3339, obj.UpdatedAt); err == nil {
			f.ModifiedAt = ts.UTC()
		}
		if meta, ok := obj.Metadata.(map[string]interface{}); ok {
			if size, ok := meta["size"].(float64); ok {
				f.Size = int64(size)
			}
			if mt, ok := meta["mimetype"].(string); ok {
				f.Mime = mt
			}
		}
		out = append(out, f)

		if isFolder && recursive {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			children, err := p.list(ctx, full, true)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
	}
	return out, nil
}

func (p *SupabaseProvider) FileExists(ctx context.Context, providerPath string) (bool, error) {
	key := objectKey(providerPath)
	parent := path.Dir(key)
	if parent == "." {
		parent = ""
	}
	files, err := p.list(ctx, parent, false)
	if err != nil {
		return false, err
	}
	name := path.Base(key)
	for _, f := range files {
		if f.Name == name && !f.IsFolder {
			return true, nil
		}
	}
	return false, nil
}

// CreateFolder is a no-op: bucket prefixes exist implicitly once an object is
// written under them.
func (p *SupabaseProvider) CreateFolder(ctx context.Context, providerPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}

var _ Provider = (*SupabaseProvider)(nil)
