package record

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
)

// Config selects and configures a record store.
type Config struct {
	Backend     string // memory, file, postgres, s3
	Dir         string
	DatabaseURL string
	S3          S3Config
	Fs          afero.Fs // file backend filesystem, defaults to the OS
}

// Open creates a Store from a backend name.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		fsys := cfg.Fs
		if fsys == nil {
			fsys = afero.NewOsFs()
		}
		return NewFile(fsys, cfg.Dir)
	case "postgres":
		pg, err := NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown record store: %s", cfg.Backend)
	}
}
