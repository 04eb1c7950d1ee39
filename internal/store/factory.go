package store

import (
	"fmt"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

// New builds the configured store. defaultPath is used for sqlite when the
// config leaves the path empty.
func New(cfg models.StoreConfig, defaultPath string) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		compression, err := codec.ParseCompression(cfg.Compression)
		if err != nil {
			return nil, err
		}
		path := cfg.Path
		if path == "" {
			path = defaultPath
		}
		return NewSQLiteStore(path, compression), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Type)
	}
}
