// Package fs is the local staging directory for files waiting to be relayed.
package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrOutsideRoot = errors.New("path is outside the staging directory")

type Storage struct {
	rootPath string
}

func New(rootPath string) (*Storage, error) {
	p, err := filepath.Abs(filepath.Clean(rootPath))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging directory %s: %w", rootPath, err)
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", p, err)
	}
	return &Storage{rootPath: p}, nil
}

func (s *Storage) Root() string {
	return s.rootPath
}

// Save writes data under a generated name that keeps only the extension of
// originalFilename. It returns the staged path and the number of bytes written.
func (s *Storage) Save(data io.Reader, originalFilename string) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalFilename)))
	if strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	fullPath := filepath.Join(s.rootPath, uuid.NewString()+ext)

	dst, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staged file: %w", err)
	}
	n, err := io.Copy(dst, data)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(fullPath)
		return "", 0, fmt.Errorf("failed to write staged file: %w", err)
	}
	return fullPath, n, nil
}

func (s *Storage) resolve(path string) (string, error) {
	full := filepath.Clean(path)
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.rootPath, full)
	}
	rel, err := filepath.Rel(s.rootPath, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", ErrOutsideRoot
	}
	return full, nil
}

// Read opens a staged file.
func (s *Storage) Read(path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("staged file not found: %w", err)
		}
		return nil, fmt.Errorf("failed to open staged file: %w", err)
	}
	return f, nil
}

// DeleteFile removes a staged file. A file that is already gone is not an error.
func (s *Storage) DeleteFile(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete staged file: %w", err)
	}
	return nil
}

// WalkFiles lists every regular file in the staging directory.
func (s *Storage) WalkFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk staging directory: %w", err)
	}
	return paths, nil
}

func (s *Storage) GetFileModTime(path string) (time.Time, error) {
	full, err := s.resolve(path)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
