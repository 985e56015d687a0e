package objects

import (
	"fmt"
	"strings"

	"github.com/objectfinder/object-finder/internal/config"
	"github.com/objectfinder/object-finder/internal/pkg/errors"
)

// NewStore creates a Store based on the configuration.
func NewStore(cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryStore(), nil

	case "sqlite":
		if cfg.DSN == "" {
			return nil, errors.New(errors.CodeValidation, "sqlite dsn not configured")
		}
		return NewSQLiteStore(cfg.DSN)

	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New(errors.CodeValidation, "postgres dsn not configured")
		}
		return NewPostgresStore(cfg.DSN)

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown store type: %s", cfg.Type))
	}
}
