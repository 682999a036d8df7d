// Package workspace manages per-job scratch directories. A job gets one
// exclusively-owned directory for its whole lifetime; every file the
// pipeline writes lands inside it, and release removes the whole subtree no
// matter how the job ended. Nothing outside the workspace root is ever
// touched.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// ResourceError means a workspace could not be allocated: disk full,
// missing root, permissions. Callers may retry once after a backoff.
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("workspace: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ErrOutsideWorkspace is returned by Join for paths escaping the subtree.
var ErrOutsideWorkspace = fmt.Errorf("workspace: path escapes workspace")

// Config configures a Manager.
type Config struct {
	// Root is the parent directory for all workspaces.
	Root   string
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Root == "" {
		c.Root = filepath.Join(os.TempDir(), "docmill")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager allocates and reclaims workspaces under one root.
type Manager struct {
	cfg Config
}

// NewManager returns a Manager. The root directory is created lazily on
// first Acquire.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Root returns the configured parent directory.
func (m *Manager) Root() string { return m.cfg.Root }

// Acquire creates an isolated scratch directory for jobID. The directory
// name embeds the job ID for operator forensics but uniqueness does not
// depend on it.
func (m *Manager) Acquire(jobID string) (*Workspace, error) {
	if err := os.MkdirAll(m.cfg.Root, 0o755); err != nil {
		return nil, &ResourceError{Op: "create root", Path: m.cfg.Root, Err: err}
	}
	dir, err := os.MkdirTemp(m.cfg.Root, sanitize(jobID)+"-")
	if err != nil {
		return nil, &ResourceError{Op: "create workspace", Path: m.cfg.Root, Err: err}
	}
	m.cfg.Logger.Debug("workspace: acquired", "job_id", jobID, "dir", dir)
	return &Workspace{id: jobID, dir: dir, logger: m.cfg.Logger}, nil
}

// Release removes the workspace subtree. It is idempotent and never
// returns an error: cleanup failure is logged and the job outcome stands.
func (m *Manager) Release(w *Workspace) {
	if w == nil || !w.released.CompareAndSwap(false, true) {
		return
	}
	if err := os.RemoveAll(w.dir); err != nil {
		m.cfg.Logger.Warn("workspace: release failed", "job_id", w.id, "dir", w.dir, "error", err)
		return
	}
	m.cfg.Logger.Debug("workspace: released", "job_id", w.id, "dir", w.dir)
}

// Workspace is one job's scratch directory.
type Workspace struct {
	id       string
	dir      string
	logger   *slog.Logger
	released atomic.Bool
}

// ID returns the owning job's identifier.
func (w *Workspace) ID() string { return w.id }

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string { return w.dir }

// Join resolves elems inside the workspace and rejects escapes, including
// ones smuggled through "..".
func (w *Workspace) Join(elems ...string) (string, error) {
	p := filepath.Join(append([]string{w.dir}, elems...)...)
	rel, err := filepath.Rel(w.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, filepath.Join(elems...))
	}
	return p, nil
}

// Mkdir creates a subdirectory inside the workspace and returns its path.
func (w *Workspace) Mkdir(name string) (string, error) {
	p, err := w.Join(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", &ResourceError{Op: "mkdir", Path: p, Err: err}
	}
	return p, nil
}

// WriteFile writes data to a file inside the workspace and returns its path.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	p, err := w.Join(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", &ResourceError{Op: "write", Path: p, Err: err}
	}
	return p, nil
}

// sanitize keeps workspace directory prefixes filesystem-safe.
func sanitize(s string) string {
	if s == "" {
		return "job"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	const maxPrefix = 40
	out := b.String()
	if len(out) > maxPrefix {
		out = out[:maxPrefix]
	}
	return out
}
