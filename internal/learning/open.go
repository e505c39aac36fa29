package learning

import (
	"fmt"

	"go.uber.org/zap"
)

// Open builds the store for backend ("json" or "sqlite") at path.
func Open(backend, path string, logger *zap.Logger) (Store, error) {
	switch backend {
	case "", "json":
		return NewFileStore(path, logger)
	case "sqlite":
		return NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown learning backend %q", backend)
	}
}
