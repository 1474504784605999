package database

import (
	"database/sql"
	"fmt"
)

// HealthCheck verifies the underlying connection is alive
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Ping()
}

// GetConnectionStats returns connection pool statistics
func GetConnectionStats() (sql.DBStats, error) {
	if DB == nil {
		return sql.DBStats{}, fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return sql.DBStats{}, fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Stats(), nil
}
