// Package store 提供整库状态的持久化后端。
// 状态是一个不透明的序列化单元，后端只负责按库名读写，
// 不解释其内容；单进程单写者，不做文件锁。
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileStore 文件后端：根目录下每库一个 `<name>.mdb` 文件
type FileStore struct {
	rootPath string
	logger   *zap.Logger
}

// NewFileStore 创建文件后端
func NewFileStore(rootPath string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{rootPath: rootPath, logger: logger}
}

// Path 库名对应的文件路径
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.rootPath, name+".mdb")
}

// Save 写整库状态；先写临时文件再改名，避免写一半的状态文件
func (s *FileStore) Save(_ context.Context, name string, state []byte) error {
	path := s.Path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, state, 0o644); err != nil {
		return fmt.Errorf("failed to write `%s`: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename `%s`: %w", tmp, err)
	}
	s.logger.Info("state written", zap.String("path", path), zap.Int("bytes", len(state)))
	return nil
}

// Load 读整库状态
func (s *FileStore) Load(_ context.Context, name string) ([]byte, error) {
	path := s.Path(name)
	state, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read `%s`: %w", path, err)
	}
	return state, nil
}

// SplitDBPath 将 `.mdb` 文件路径拆分为 (根目录, 库名)。
// 加载时根目录必须从路径重新派生，不使用状态内嵌的绝对路径。
func SplitDBPath(path string) (rootPath, dbName string, err error) {
	if !strings.HasSuffix(path, ".mdb") {
		return "", "", fmt.Errorf("database file must have `.mdb` extension: %s", path)
	}
	dir, file := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	return filepath.Clean(dir), strings.TrimSuffix(file, ".mdb"), nil
}
