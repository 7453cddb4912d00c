package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/graphloom/loom/pkg/common"
)

// ErrOutsideRoot is returned for refs that would escape the source root
// (absolute paths, ".." traversal).
var ErrOutsideRoot = errors.New("loader: ref escapes the source root")

// FSSource loads documents from files under a root directory. Refs are
// slash-separated paths relative to the root; anything pointing outside it
// is rejected.
type FSSource struct {
	root string
}

// NewFSSource builds a filesystem source rooted at dir.
func NewFSSource(dir string) (*FSSource, error) {
	if dir == "" {
		return nil, errors.New("loader: fs source needs a root directory")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: fs root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("loader: fs root %q is not a directory", dir)
	}
	return &FSSource{root: dir}, nil
}

func (s *FSSource) Load(ctx context.Context, ref string) (common.Document, error) {
	if err := ctx.Err(); err != nil {
		return common.Document{}, err
	}
	ref = filepath.ToSlash(filepath.Clean(filepath.FromSlash(ref)))
	if ref == "." || !filepath.IsLocal(ref) {
		return common.Document{}, fmt.Errorf("%w: %q", ErrOutsideRoot, ref)
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(ref)))
	if err != nil {
		return common.Document{}, fmt.Errorf("loader: reading %q: %w", ref, err)
	}
	return common.Document{
		ID:     ref,
		Source: "fs:" + ref,
		Text:   string(data),
	}, nil
}
