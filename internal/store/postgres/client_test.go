package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x", Host: "ignored"},
			want: "postgres://x",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "arena", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/arena?sslmode=disable",
		},
		{
			name: "custom port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "arena", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/arena?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestListQuery(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	q, args := listQuery(`SELECT * FROM rounds WHERE TRUE`, nil, "target_ts", "DESC",
		domain.ListOpts{Since: &since, Limit: 20, Offset: 40})

	assert.Equal(t, `SELECT * FROM rounds WHERE TRUE AND target_ts >= $1 ORDER BY target_ts DESC LIMIT $2 OFFSET $3`, q)
	assert.Equal(t, []any{since, 20, 40}, args)
}

func TestCheckID(t *testing.T) {
	assert.NoError(t, checkID("8c5b7f0e-7d5e-4a43-9d8e-4b8e2b0b6f10"))
	assert.ErrorIs(t, checkID("not-a-uuid"), domain.ErrNotFound)
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	assert.NoError(t, err)
	for _, table := range []string{"rounds", "prediction_records", "bids", "disbursements", "accounts", "audit_log"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	assert.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, names)
}
