package infra

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgx5URL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/rewards", pgx5URL("postgres://u:p@db:5432/rewards"))
	assert.Equal(t, "pgx5://db/rewards", pgx5URL("postgresql://db/rewards"))
	assert.Equal(t, "pgx5://db/rewards", pgx5URL("pgx5://db/rewards"))
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationFS, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
