package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its struct tags plus the
// cross-field rules that tags cannot express.
func Validate(cfg *Config) error {
	if err := configValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %q failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if cfg.Coordinator.ChunkSize == 0 {
		return errors.New("coordinator.chunk_size must be positive")
	}
	if cfg.Coordinator.GCGrace < 0 {
		return errors.New("coordinator.gc_grace must be non-negative")
	}
	if err := cfg.Coordinator.Store.Validate(); err != nil {
		return fmt.Errorf("coordinator.store: %w", err)
	}

	return nil
}

// ValidateWorker performs the extra checks required when the process runs
// the worker role. StoragePath is only mandatory for workers, so it cannot
// be a struct tag on the shared Config.
func ValidateWorker(cfg *WorkerConfig) error {
	if cfg.StoragePath == "" {
		return errors.New("worker.storage_path is required")
	}
	return nil
}
