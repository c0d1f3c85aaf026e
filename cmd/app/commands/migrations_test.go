package commands

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunMigrations_InvalidConnectionString(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_CONNECTION_STRING", "not-a-valid-url")

	err := RunMigrations()
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to create migrate instance")
}

func TestRunMigrations_MysqlPath(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_CONNECTION_STRING", "not-a-valid-url")

	err := RunMigrations()
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to create migrate instance")
}
