package storage

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalProvider stores files under a root directory. It is the reference
// provider for development and tests.
type LocalProvider struct {
	root string
}

// NewLocalProvider creates the root directory if needed.
func NewLocalProvider(root string) (*LocalProvider, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root directory", ErrMisconfigured)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root %s: %v", ErrMisconfigured, root, err)
	}
	return &LocalProvider{root: root}, nil
}

// resolve maps a provider path onto the filesystem, refusing escapes from
// the root.
func (p *LocalProvider) resolve(providerPath string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(providerPath, "\\", "/"))
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("%w: invalid path %q", ErrNotFound, providerPath)
	}
	return filepath.Join(p.root, filepath.FromSlash(clean)), nil
}

func (p *LocalProvider) UploadFile(ctx context.Context, data []byte, destPath, filename, mimeType string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := path.Join(destPath, filename)
	fsPath, err := p.resolve(full)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.WriteFile(fsPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if mimeType == "" {
		mimeType = detectMime(filename, data)
	}
	return &File{
		ID:         full,
		Name:       filename,
		Path:       full,
		Size:       info.Size(),
		Mime:       mimeType,
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

func (p *LocalProvider) DownloadFile(ctx context.Context, providerPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fsPath, err := p.resolve(providerPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fsPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, providerPath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

func (p *LocalProvider) DeleteFile(ctx context.Context, providerPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fsPath, err := p.resolve(providerPath)
	if err != nil {
		return false, err
	}
	err = os.Remove(fsPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

func (p *LocalProvider) ListFiles(ctx context.Context, folder string, recursive bool) ([]*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fsPath, err := p.resolve(folder)
	if err != nil {
		return nil, err
	}

	var out []*File
	if recursive {
		walkErr := filepath.WalkDir(fsPath, func(entryPath string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entryPath == fsPath {
				return nil
			}
			out = append(out, p.fileInfo(entryPath, d))
			return nil
		})
		if os.IsNotExist(walkErr) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, folder)
		}
		if walkErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, walkErr)
		}
		return out, nil
	}

	entries, err := os.ReadDir(fsPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, folder)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, e := range entries {
		out = append(out, p.fileInfo(filepath.Join(fsPath, e.Name()), e))
	}
	return out, nil
}

func (p *LocalProvider) fileInfo(fsPath string, d fs.DirEntry) *File {
	rel, _ := filepath.Rel(p.root, fsPath)
	providerPath := "/" + filepath.ToSlash(rel)
	f := &File{
		ID:       providerPath,
		Name:     d.Name(),
		Path:     providerPath,
		IsFolder: d.IsDir(),
	}
	if info, err := d.Info(); err == nil {
		f.Size = info.Size()
		f.ModifiedAt = info.ModTime().UTC()
	}
	if !f.IsFolder {
		f.Mime = mime.TypeByExtension(filepath.Ext(d.Name()))
	}
	return f
}

func (p *LocalProvider) FileExists(ctx context.Context, providerPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fsPath, err := p.resolve(providerPath)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(fsPath)
	if os.IsNotExist(statErr) {
		return false, nil
	}
	if statErr != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, statErr)
	}
	return true, nil
}

// CreateFolder is idempotent: creating an existing folder succeeds.
func (p *LocalProvider) CreateFolder(ctx context.Context, providerPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fsPath, err := p.resolve(providerPath)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(fsPath, 0o755); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

func detectMime(filename string, data []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

var _ Provider = (*LocalProvider)(nil)
