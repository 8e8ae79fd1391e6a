package store

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/config"
)

// New selects and opens the configured backend. An absolute path in the
// backend field is shorthand for filesystem mode rooted there.
func New(cfg *config.Config, logger *zap.Logger) (CollectionStore, error) {
	if root, ok := cfg.FilesystemMode(); ok {
		fs, err := OpenFSStore(root, logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	db, err := OpenSQLStore(cfg.Store.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	return db, nil
}
