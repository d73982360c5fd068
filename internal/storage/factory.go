// Package storage selects a StorageManager backend from configuration.
package storage

import (
	"fmt"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/storage/memory"
	"github.com/sgrimes/folio/internal/storage/postgres"
	"github.com/sgrimes/folio/internal/storage/surrealdb"
)

// Driver constants.
const (
	DriverMemory    = "memory"
	DriverSurrealDB = "surrealdb"
	DriverPostgres  = "postgres"
)

// NewManager creates a storage manager for the configured driver.
// Supported drivers: "memory" (default), "surrealdb", "postgres".
func NewManager(logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	driver := config.Storage.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return memory.NewManager(), nil

	case DriverSurrealDB:
		return surrealdb.NewManager(logger, config)

	case DriverPostgres:
		return postgres.NewManager(logger, config)

	default:
		return nil, fmt.Errorf("unknown storage driver: %s (supported: memory, surrealdb, postgres)", driver)
	}
}
