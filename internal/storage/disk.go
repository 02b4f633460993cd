package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"backend/internal/logger"

	"go.uber.org/zap"
)

// DiskStore 本地磁盘存储实现
// 布局为 <basePath>/<bucket>/<key>，key 允许包含子目录
type DiskStore struct {
	basePath string
}

// NewDiskStore 创建磁盘存储
func NewDiskStore(basePath string) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储根目录失败: %w", err)
	}
	return &DiskStore{basePath: basePath}, nil
}

func (d *DiskStore) resolve(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("storage: bucket 和 key 不能为空")
	}
	// 拒绝路径穿越
	cleaned := filepath.Clean(key)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: 非法对象键: %s", key)
	}
	return filepath.Join(d.basePath, bucket, cleaned), nil
}

// Put 写入对象，已存在时返回 ErrObjectExists
func (d *DiskStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	path, err := d.resolve(bucket, key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return ErrObjectExists
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建对象目录失败: %w", err)
	}

	// 先写临时文件再改名，避免读到半写状态
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入对象失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("提交对象失败: %w", err)
	}

	logger.Debug("对象写入成功",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)
	return nil
}

// Get 读取对象
func (d *DiskStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	path, err := d.resolve(bucket, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("读取对象失败: %w", err)
	}
	return data, nil
}

// Exists 检查对象是否存在
func (d *DiskStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	path, err := d.resolve(bucket, key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete 删除对象，不存在视为成功
func (d *DiskStore) Delete(ctx context.Context, bucket, key string) error {
	path, err := d.resolve(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除对象失败: %w", err)
	}
	return nil
}
