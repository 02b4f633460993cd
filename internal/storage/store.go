package storage

import (
	"context"
	"errors"
)

// 存储桶名称
const (
	BucketDocuments = "documents"
	BucketSigned    = "signed-documents"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("storage: object not found")

// ErrObjectExists 对象已存在（Put 不覆盖时返回）
var ErrObjectExists = errors.New("storage: object already exists")

// Store 对象存储抽象
// 定稿产物写入 signed-documents 桶，源文件读取带 documents 桶回退
type Store interface {
	// Put 写入对象。对象已存在时返回 ErrObjectExists，内容不被覆盖。
	Put(ctx context.Context, bucket, key string, data []byte) error
	// Get 读取对象，不存在时返回 ErrObjectNotFound
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Exists 检查对象是否存在
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// Delete 删除对象，对象不存在时静默成功
	Delete(ctx context.Context, bucket, key string) error
}

// GetWithFallback 先查主桶，未命中再查回退桶
// 历史数据迁移期间，定稿文档可能仍留在源桶
func GetWithFallback(ctx context.Context, s Store, primary, fallback, key string) ([]byte, string, error) {
	data, err := s.Get(ctx, primary, key)
	if err == nil {
		return data, primary, nil
	}
	if !errors.Is(err, ErrObjectNotFound) {
		return nil, "", err
	}

	data, err = s.Get(ctx, fallback, key)
	if err != nil {
		return nil, "", err
	}
	return data, fallback, nil
}
