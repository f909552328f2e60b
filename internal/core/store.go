package core

import (
	"fmt"
	"os"

	"cipherflow/internal/infra/persistence/memory"
	"cipherflow/internal/infra/persistence/postgres"
	"cipherflow/internal/infra/persistence/sqlite"
	"cipherflow/pkg/domain"
)

// NewMemoryStore constructs the in-memory store with the deployer
// pre-authorized.
func NewMemoryStore(deployer domain.Principal) *memory.Store {
	return memory.New(deployer)
}

// NewSQLiteStore constructs a SQLite-backed store from the provided path.
func NewSQLiteStore(path string, deployer domain.Principal) (*sqlite.Store, error) {
	return sqlite.NewStore(path, deployer)
}

// NewPostgresStore constructs a Postgres-backed store from the provided DSN.
func NewPostgresStore(dsn string, deployer domain.Principal) (*postgres.Store, error) {
	return postgres.NewStore(dsn, deployer)
}

// OpenPersistentStore selects a persistence backend using environment
// variables.
//
//	CIPHERFLOW_PERSISTENCE_DRIVER: memory|sqlite|postgres (default memory)
//	CIPHERFLOW_SQLITE_PATH: database path when driver=sqlite
//	CIPHERFLOW_POSTGRES_DSN: connection string when driver=postgres
func OpenPersistentStore(deployer domain.Principal) (domain.PersistentStore, error) {
	driver := os.Getenv("CIPHERFLOW_PERSISTENCE_DRIVER")
	if driver == "" {
		driver = "memory"
	}
	switch driver {
	case "memory":
		return NewMemoryStore(deployer), nil
	case "sqlite":
		return NewSQLiteStore(os.Getenv("CIPHERFLOW_SQLITE_PATH"), deployer)
	case "postgres":
		return NewPostgresStore(os.Getenv("CIPHERFLOW_POSTGRES_DSN"), deployer)
	default:
		return nil, fmt.Errorf("unknown persistence driver %s", driver)
	}
}
