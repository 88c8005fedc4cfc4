// Package config loads the process-wide configuration from the
// environment, via a .env file when present.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// StorageType selects which persistence backend to construct.
type StorageType string

const (
	StorageMemory     StorageType = "memory"
	StorageFilesystem StorageType = "filesystem"
	StorageSQLite     StorageType = "sqlite"
)

// Config is the validated process configuration.
type Config struct {
	StorageType      StorageType
	DataSourceName   string
	LocalStoragePath string
	Port             string
	LogLevel         string
}

// Load reads STORAGE_TYPE, DATA_SOURCE_NAME, LOCAL_STORAGE_PATH, PORT and
// LOG_LEVEL from the environment, loading a .env file first if one exists
// in the working directory.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		StorageType:      StorageType(getenv("STORAGE_TYPE", string(StorageMemory))),
		DataSourceName:   getenv("DATA_SOURCE_NAME", "roomserver.db"),
		LocalStoragePath: getenv("LOCAL_STORAGE_PATH", "./data"),
		Port:             getenv("PORT", "3002"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
	}

	switch cfg.StorageType {
	case StorageMemory, StorageFilesystem, StorageSQLite:
	default:
		return nil, fmt.Errorf("config: invalid STORAGE_TYPE %q (want memory, filesystem, or sqlite)", cfg.StorageType)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
