// Package files manages the source files of the infrastructure program.
// Every path it accepts is relative to a single root directory and is
// rejected if it would escape that root.
package files

import (
	"errors"
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/iac-sandbox/stackd/internal/domain"
)

// treeExtensions are the file types surfaced in listings and trees.
var treeExtensions = map[string]bool{
	".go":   true,
	".mod":  true,
	".sum":  true,
	".yaml": true,
	".yml":  true,
	".json": true,
}

// Service reads and writes infrastructure source files under a fixed root.
type Service struct {
	root string
}

// NewService creates a file service rooted at dir. The directory must
// already exist.
func NewService(dir string) (*Service, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving infrastructure directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("infrastructure directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("infrastructure path %s is not a directory", root)
	}
	// The root itself may sit behind a symlink (tmpfs on some systems);
	// resolving it once keeps the containment checks comparable.
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolving infrastructure directory: %w", err)
	}
	log.Printf("file service rooted at %s", root)
	return &Service{root: root}, nil
}

// resolve turns a client-supplied relative path into an absolute path
// under the root, rejecting anything that escapes it. Containment is
// checked twice: lexically, and again after symlink resolution, so a
// link placed inside the root cannot reach outside it.
func (s *Service) resolve(relPath string) (string, error) {
	if strings.Contains(relPath, "\x00") {
		return "", fmt.Errorf("%w: invalid path", domain.ErrInvalidInput)
	}
	full := filepath.Join(s.root, filepath.FromSlash(relPath))
	if !s.contains(full) {
		return "", fmt.Errorf("%w: path %q escapes the infrastructure directory", domain.ErrInvalidInput, relPath)
	}
	resolved, err := resolveSymlinks(full)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", relPath, err)
	}
	if !s.contains(resolved) {
		return "", fmt.Errorf("%w: path %q escapes the infrastructure directory", domain.ErrInvalidInput, relPath)
	}
	return resolved, nil
}

func (s *Service) contains(full string) bool {
	return full == s.root || strings.HasPrefix(full, s.root+string(filepath.Separator))
}

// resolveSymlinks evaluates symlinks over the longest existing prefix
// of path and rejoins the rest, so write targets that do not exist yet
// can still be checked.
func resolveSymlinks(path string) (string, error) {
	rest := ""
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		dir := filepath.Dir(path)
		if dir == path {
			return "", err
		}
		rest = filepath.Join(filepath.Base(path), rest)
		path = dir
	}
}

func relSlash(root, full string) string {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return full
	}
	return filepath.ToSlash(rel)
}

func skippable(name string) bool {
	return strings.HasPrefix(name, ".") || name == "vendor" || name == "node_modules"
}

// ListFiles walks the given subdirectory and returns every file whose
// name matches pattern, sorted by path. An empty pattern means "*.go".
func (s *Service) ListFiles(directory, pattern string) ([]domain.FileInfo, error) {
	target, err := s.resolve(directory)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*.go"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q", domain.ErrInvalidInput, pattern)
	}

	var out []domain.FileInfo
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if path != target && skippable(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if match, _ := filepath.Match(pattern, d.Name()); !match || skippable(d.Name()) {
			return nil
		}
		ext := filepath.Ext(d.Name())
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		out = append(out, domain.FileInfo{
			Path:      relSlash(s.root, path),
			Name:      d.Name(),
			Size:      info.Size(),
			Modified:  info.ModTime(),
			Extension: ext,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing files under %q: %w", directory, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if out == nil {
		out = []domain.FileInfo{}
	}
	return out, nil
}

// Tree returns the nested directory structure starting at directory.
func (s *Service) Tree(directory string) (*domain.DirectoryTree, error) {
	target, err := s.resolve(directory)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("%w: directory %q", domain.ErrNotFound, directory)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", domain.ErrInvalidInput, directory)
	}
	return s.buildTree(target)
}

func (s *Service) buildTree(dir string) (*domain.DirectoryTree, error) {
	name := filepath.Base(dir)
	if dir == s.root {
		name = filepath.Base(s.root)
	}
	tree := &domain.DirectoryTree{
		Name: name,
		Path: relSlash(s.root, dir),
		Dir:  true,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("reading directory %s: %v", dir, err)
		return tree, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if skippable(entry.Name()) {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			child, err := s.buildTree(full)
			if err != nil {
				return nil, err
			}
			tree.Children = append(tree.Children, child)
			continue
		}
		if !treeExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		tree.Children = append(tree.Children, &domain.DirectoryTree{
			Name: entry.Name(),
			Path: relSlash(s.root, full),
		})
	}
	return tree, nil
}

// ReadFile returns the content of one file.
func (s *Service) ReadFile(relPath string) (*domain.FileContent, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("%w: file %q", domain.ErrNotFound, relPath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %q is a directory", domain.ErrInvalidInput, relPath)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", relPath, err)
	}
	return &domain.FileContent{
		Path:    filepath.ToSlash(relPath),
		Content: string(data),
		Size:    len(data),
	}, nil
}

// WriteFile replaces the content of a file, creating parent directories
// as needed. Go sources are syntax-checked first unless validate is false.
func (s *Service) WriteFile(relPath, content string, validate bool) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if validate && filepath.Ext(relPath) == ".go" {
		result := ValidateGo(filepath.Base(relPath), content)
		if !result.Valid {
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(result.Errors, "; "))
		}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %q: %w", relPath, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", relPath, err)
	}
	log.Printf("wrote file %s (%d bytes)", relPath, len(content))
	return nil
}

// CreateFile writes a new file, failing if it already exists.
func (s *Service) CreateFile(relPath, content string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err == nil {
		return fmt.Errorf("%w: file %q", domain.ErrAlreadyExists, relPath)
	}
	return s.WriteFile(relPath, content, true)
}

// DeleteFile removes one file. Directories cannot be deleted.
func (s *Service) DeleteFile(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("%w: file %q", domain.ErrNotFound, relPath)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %q is a directory", domain.ErrInvalidInput, relPath)
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("deleting %q: %w", relPath, err)
	}
	log.Printf("deleted file %s", relPath)
	return nil
}

// ValidateGo parses content as a Go source file and reports syntax errors.
func ValidateGo(fileName, content string) domain.ValidationResult {
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, fileName, content, parser.AllErrors)
	if err == nil {
		return domain.ValidationResult{Valid: true}
	}

	var msgs []string
	var list scanner.ErrorList
	if ok := asErrorList(err, &list); ok {
		for _, e := range list {
			msgs = append(msgs, fmt.Sprintf("line %d: %s", e.Pos.Line, e.Msg))
		}
	} else {
		msgs = append(msgs, err.Error())
	}
	return domain.ValidationResult{Valid: false, Errors: msgs}
}

func asErrorList(err error, out *scanner.ErrorList) bool {
	list, ok := err.(scanner.ErrorList)
	if ok {
		*out = list
	}
	return ok
}
