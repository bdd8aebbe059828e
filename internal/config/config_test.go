package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qpcr-scurve/engine/internal/domain"
)

func TestValidate_RejectsBadFixedThresholdTable(t *testing.T) {
	m := &Manager{config: &AppConfig{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "postgres", Host: "localhost", Database: "qpcr"},
		Cache:    CacheConfig{RedisURL: "redis://localhost:6379"},
		Logging:  LoggingConfig{Level: "info"},
		FixedThresholdTable: domain.FixedThresholdTable{
			"NGON": {"FAM": {domain.ScaleLinear: -1}},
		},
		ML: domain.DefaultMLConfig(),
	}}

	err := m.Validate()
	require.Error(t, err)
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	m := &Manager{config: &AppConfig{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "postgres", Host: "localhost", Database: "qpcr"},
		Cache:    CacheConfig{RedisURL: "redis://localhost:6379"},
		Logging:  LoggingConfig{Level: "info"},
		FixedThresholdTable: domain.FixedThresholdTable{
			"NGON": {"FAM": {domain.ScaleLinear: 150}},
		},
		ML: domain.DefaultMLConfig(),
	}}

	require.NoError(t, m.Validate())
}

func TestGetDatabaseConnectionString_FormatsDSN(t *testing.T) {
	m := &Manager{config: &AppConfig{
		Database: DatabaseConfig{Host: "db", Port: 5432, Username: "u", Password: "p", Database: "qpcr", SSLMode: "disable"},
	}}
	dsn := m.GetDatabaseConnectionString()
	require.Contains(t, dsn, "host=db")
	require.Contains(t, dsn, "dbname=qpcr")
}
