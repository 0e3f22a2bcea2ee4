package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	filePerm      os.FileMode = 0o600
	directoryPerm os.FileMode = 0o700
)

// fileDocument is the on-disk layout of a FileStorage.
type fileDocument struct {
	Values map[string]string `yaml:"values"`
}

// FileStorage persists values as a YAML document. Every Set rewrites the
// whole document through a temp file and rename.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage returns a store backed by the YAML file at path. The file
// and its parent directories are created on the first Set.
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, errors.New("storage path must not be empty")
	}
	return &FileStorage{path: path}, nil
}

// Path returns the location of the backing file.
func (s *FileStorage) Path() string { return s.path }

// Get returns the value stored under key. A missing file reads as absent.
func (s *FileStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if err := validateKey(key); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return "", false, err
	}
	value, ok := doc.Values[key]
	return value, ok, nil
}

// Set stores value under key, keeping other keys intact.
func (s *FileStorage) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Values[key] = value

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: marshal document: %v", ErrUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), directoryPerm); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrUnavailable, filepath.Dir(s.path), err)
	}
	if err := atomicWriteFile(s.path, data, filePerm); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *FileStorage) read() (fileDocument, error) {
	doc := fileDocument{Values: map[string]string{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("%w: read file: %v", ErrUnavailable, err)
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fileDocument{}, fmt.Errorf("%w: parse YAML: %v", ErrUnavailable, err)
	}
	if doc.Values == nil {
		doc.Values = map[string]string{}
	}
	return doc, nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
