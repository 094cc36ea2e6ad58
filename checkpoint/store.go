package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pkgerrors "github.com/absmach/gradsync/pkg/errors"
)

const (
	StoreLocal = "local"
	StoreS3    = "s3"
	StoreRedis = "redis"
)

// Store keeps named blobs. Put replaces a blob atomically; readers see either
// the old or the new content. Get returns errors.ErrNotFound for unknown
// names.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

type localStore struct{}

// NewLocalStore treats names as file system paths.
func NewLocalStore() Store {
	return localStore{}
}

func (localStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return errors.Join(err, tmp.Close(), os.Remove(tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(err, os.Remove(tmp.Name()))
	}

	return os.Rename(tmp.Name(), name)
}

func (localStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, pkgerrors.ErrNotFound)
	}

	return data, err
}
