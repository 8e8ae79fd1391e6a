package vectorstore

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
)

// New opens the configured backend.
func New(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Vector.Backend {
	case config.VectorBackendChromem:
		s, err := NewChromemStore(cfg.Vector.Path, false, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.VectorBackendQdrant:
		s, err := NewQdrantStore(QdrantConfig{
			Host:   cfg.Vector.QdrantHost,
			Port:   cfg.Vector.QdrantPort,
			APIKey: cfg.Vector.QdrantAPIKey.Value(),
			UseTLS: cfg.Vector.QdrantUseTLS,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, apperr.Errorf(apperr.KindValidation, "invalid_config",
			"unknown vector backend %q", cfg.Vector.Backend)
	}
}
