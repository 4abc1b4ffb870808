package provider

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flowcanvas/bridge/internal/logging"
	"github.com/flowcanvas/bridge/pkg/schema"
)

// FileSystem is the narrow capability set the file backend needs.
// The default is the real OS; tests may inject a fake.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
}

type osFS struct{}

func (osFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }
func (osFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
func (osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (osFS) Stat(path string) (os.FileInfo, error)        { return os.Stat(path) }

// OSFileSystem returns the real filesystem.
func OSFileSystem() FileSystem { return osFS{} }

// FileProvider reads and writes the workflow as a JSON file. It is
// never stale: there is no other writer to race against. The target
// path is exclusively owned by this provider for the bridge's lifetime.
type FileProvider struct {
	path   string
	fs     FileSystem
	logger *slog.Logger
}

// NewFileProvider creates a file-backed provider for the given path.
func NewFileProvider(path string, fsys FileSystem, logger *slog.Logger) *FileProvider {
	if fsys == nil {
		fsys = OSFileSystem()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileProvider{path: path, fs: fsys, logger: logger}
}

// Path returns the workflow file path.
func (p *FileProvider) Path() string { return p.path }

func (p *FileProvider) GetCurrentWorkflow(ctx context.Context) (*schema.Snapshot, error) {
	data, err := p.fs.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &schema.Snapshot{Workflow: nil, IsStale: false}, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeIO, "failed to read workflow file %s", p.path).WithCause(err)
	}

	wf, err := schema.DecodeWorkflow(data)
	if err != nil {
		return nil, err
	}
	return &schema.Snapshot{Workflow: wf, IsStale: false}, nil
}

func (p *FileProvider) ApplyWorkflow(ctx context.Context, wf *schema.Workflow, description string) (bool, error) {
	data, err := schema.EncodeWorkflow(wf)
	if err != nil {
		return false, schema.NewError(schema.ErrCodeIO, "failed to serialize workflow").WithCause(err)
	}

	if err := p.fs.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return false, schema.NewErrorf(schema.ErrCodeIO, "failed to create workflow directory for %s", p.path).WithCause(err)
	}

	// Whole-file replace, never append or patch.
	if err := p.fs.WriteFile(p.path, data, 0o644); err != nil {
		return false, schema.NewErrorf(schema.ErrCodeIO, "failed to write workflow file %s", p.path).WithCause(err)
	}

	p.logger.InfoContext(ctx, "provider.file_applied", "path", p.path, "description", description)
	return true, nil
}

var _ Provider = (*FileProvider)(nil)
