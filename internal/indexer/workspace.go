package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Workspace is a checked-out source tree ready for indexing. Release
// must be safe to call on every exit path, including after errors.
type Workspace interface {
	Path() string
	// Head returns the commit fingerprint of the checkout. For trees
	// without version control a content fingerprint is returned instead.
	Head() (string, error)
	Release() error
}

// WorkspaceProvider acquires a workspace for a repository URL and branch.
type WorkspaceProvider interface {
	Acquire(ctx context.Context, url, branch string) (Workspace, error)
}

// LocalProvider serves repositories that already exist on disk. The URL
// is a filesystem path, optionally prefixed with file://. With CopyToTemp
// set the tree is copied into a temp directory so indexing never races
// with an editor writing to the original checkout.
type LocalProvider struct {
	CopyToTemp bool
}

// NewLocalProvider returns a provider that indexes checkouts in place.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// Acquire validates the path and wraps it in a workspace.
func (p *LocalProvider) Acquire(ctx context.Context, url, branch string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := strings.TrimPrefix(url, "file://")
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("workspace path %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace path %s is not a directory", path)
	}

	if !p.CopyToTemp {
		return &LocalWorkspace{path: path}, nil
	}

	tmp, err := os.MkdirTemp("", "codegraph-ws-*")
	if err != nil {
		return nil, fmt.Errorf("create temp workspace: %w", err)
	}
	if err := copyTree(path, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, fmt.Errorf("copy workspace: %w", err)
	}
	return &LocalWorkspace{
		path:    tmp,
		cleanup: func() error { return os.RemoveAll(tmp) },
	}, nil
}

// LocalWorkspace wraps a source tree on the local filesystem.
type LocalWorkspace struct {
	path    string
	cleanup func() error

	releaseOnce sync.Once
	releaseErr  error
}

func (w *LocalWorkspace) Path() string { return w.path }

// Head resolves the git HEAD commit. Trees that are not git checkouts
// fall back to a content fingerprint over their Go files, which changes
// exactly when the indexed content changes.
func (w *LocalWorkspace) Head() (string, error) {
	if commit, err := gitHead(w.path); err == nil {
		return commit, nil
	}
	return treeFingerprint(w.path)
}

// Release is idempotent; repeated calls return the first result.
func (w *LocalWorkspace) Release() error {
	w.releaseOnce.Do(func() {
		if w.cleanup != nil {
			w.releaseErr = w.cleanup()
		}
	})
	return w.releaseErr
}

// gitHead resolves HEAD by reading the repository metadata directly, so
// no git binary is required at runtime.
func gitHead(root string) (string, error) {
	head, err := os.ReadFile(filepath.Join(root, ".git", "HEAD"))
	if err != nil {
		return "", err
	}

	ref := strings.TrimSpace(string(head))
	if !strings.HasPrefix(ref, "ref: ") {
		return ref, nil // detached HEAD holds the commit directly
	}
	refName := strings.TrimSpace(strings.TrimPrefix(ref, "ref: "))

	if data, err := os.ReadFile(filepath.Join(root, ".git", filepath.FromSlash(refName))); err == nil {
		return strings.TrimSpace(string(data)), nil
	}

	// Loose ref missing; the commit may live in packed-refs.
	packed, err := os.ReadFile(filepath.Join(root, ".git", "packed-refs"))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", refName, err)
	}
	for _, line := range strings.Split(string(packed), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) == 2 && parts[1] == refName {
			return parts[0], nil
		}
	}
	return "", fmt.Errorf("ref %s not found in packed-refs", refName)
}

// treeFingerprint hashes the path and content of every Go file under
// root, in sorted path order.
func treeFingerprint(root string) (string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if shouldSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return "", err
		}
		io.WriteString(h, filepath.ToSlash(rel))
		h.Write([]byte{0})
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func shouldSkipDir(name string) bool {
	return name == "vendor" || name == "node_modules" ||
		(strings.HasPrefix(name, ".") && name != "." && name != "..")
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			if rel != "." && shouldSkipDir(d.Name()) && d.Name() != ".git" {
				return filepath.SkipDir
			}
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
