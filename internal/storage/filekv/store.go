// Package filekv implements a file-based key/value store. Each namespace is a
// directory and each key a JSON file written with temp-then-rename.
package filekv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/folio/internal/common"
)

const quarantineDir = "_quarantine"

// Store provides file-based storage for cached payloads and artifacts.
type Store struct {
	basePath string
	logger   *common.Logger
}

// NewStore creates the base directory and returns a store rooted there.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store path %s: %w", path, err)
	}
	logger.Debug().Str("path", path).Msg("File store opened")
	return &Store{basePath: path, logger: logger}, nil
}

// DataPath returns the base data path.
func (s *Store) DataPath() string {
	return s.basePath
}

// Get reads the raw bytes stored under namespace/key.
func (s *Store) Get(_ context.Context, namespace, key string) ([]byte, error) {
	path := filePath(s.nsDir(namespace), key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("'%s/%s': %w", namespace, key, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Put atomically replaces namespace/key.
func (s *Store) Put(_ context.Context, namespace, key string, data []byte) error {
	return WriteFileAtomic(filePath(s.nsDir(namespace), key), data)
}

// Delete removes namespace/key. Absent keys are not an error.
func (s *Store) Delete(_ context.Context, namespace, key string) error {
	if err := os.Remove(filePath(s.nsDir(namespace), key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List returns the keys of a namespace in sorted order.
func (s *Store) List(_ context.Context, namespace string) ([]string, error) {
	return listKeys(s.nsDir(namespace))
}

// Quarantine moves namespace/key into _quarantine/<namespace>/ with a timestamp suffix.
func (s *Store) Quarantine(_ context.Context, namespace, key, reason string) error {
	src := filePath(s.nsDir(namespace), key)
	dstDir := filepath.Join(s.basePath, quarantineDir, namespace)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	dst := filepath.Join(dstDir, fmt.Sprintf("%s.%d.json", sanitizeKey(key), time.Now().UnixNano()))
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to quarantine %s/%s: %w", namespace, key, err)
	}
	s.logger.Warn().Str("namespace", namespace).Str("key", key).Str("reason", reason).
		Str("moved_to", dst).Msg("Record quarantined")
	return nil
}

// Purge removes every key of a namespace and returns the count.
func (s *Store) Purge(namespace string) int {
	dir := s.nsDir(namespace)
	keys, err := listKeys(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, key := range keys {
		if err := os.Remove(filePath(dir, key)); err == nil {
			count++
		}
	}
	return count
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) nsDir(namespace string) string {
	return filepath.Join(s.basePath, sanitizeKey(namespace))
}

// WriteFileAtomic writes data to path through a temp file in the same directory
// followed by a rename, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// ReadJSON decodes the file at path into dest. A missing file wraps common.ErrNotFound.
func ReadJSON(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, common.ErrNotFound)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return json.Unmarshal(data, dest)
}

// --- helpers ---

func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

// FileName returns the file name a key is stored under.
func FileName(key string) string {
	return sanitizeKey(key) + ".json"
}

func filePath(dir, key string) string {
	return filepath.Join(dir, FileName(key))
}

func listKeys(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".tmp-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}
