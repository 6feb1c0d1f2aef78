package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", "postgres", DatabaseTypePostgres, false},
		{"postgresql", "postgresql", DatabaseTypePostgres, false},
		{"pg", "pg", DatabaseTypePostgres, false},
		{"mysql", "mysql", DatabaseTypeMySQL, false},
		{"mariadb", "mariadb", DatabaseTypeMySQL, false},
		{"sqlite", "sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", "sqlite3", DatabaseTypeSQLite, false},
		{"uppercase", "POSTGRES", DatabaseTypePostgres, false},
		{"invalid", "oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://fogbow:secret@db:5432/usage?sslmode=disable",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "usage", "fogbow", "secret", "disable"))
	assert.Equal(t, "postgres://fogbow:secret@db:5432/usage?sslmode=require",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "usage", "fogbow", "secret", ""))
	assert.Equal(t, "fogbow:secret@tcp(db:3306)/usage?parseTime=true&multiStatements=true",
		BuildDatabaseURL(DatabaseTypeMySQL, "db", 3306, "usage", "fogbow", "secret", ""))
	assert.Equal(t, "file:/var/lib/fogbow/usage.db?_pragma=foreign_keys(1)",
		BuildDatabaseURL(DatabaseTypeSQLite, "", 0, "/var/lib/fogbow/usage.db", "", "", ""))
	assert.Empty(t, BuildDatabaseURL("oracle", "db", 1, "usage", "", "", ""))
}

func TestAvailableMigrations(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		t.Run(string(dbType), func(t *testing.T) {
			migrations, err := availableMigrations(dbType)
			require.NoError(t, err)
			require.Len(t, migrations, 2)
			assert.Equal(t, uint(1), migrations[0].version)
			assert.Equal(t, "create_usage_records", migrations[0].name)
			assert.Equal(t, uint(2), migrations[1].version)
		})
	}

	_, err := availableMigrations("oracle")
	assert.Error(t, err)
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage.db")
	m, err := NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  BuildDatabaseURL(DatabaseTypeSQLite, "", 0, dbPath, "", "", ""),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, dbPath
}

func TestMigrator_SQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping sqlite migration in short mode")
	}
	m, dbPath := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, 2, info.AppliedMigrations)
	assert.Equal(t, 0, info.PendingMigrations)

	// 表已建好，唯一索引生效
	db, err := sql.Open("sqlite", "file:"+dbPath)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`INSERT INTO usage_records (user_id, member_id, consumption) VALUES ('alice', 'site-b', 1.5)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO usage_records (user_id, member_id, consumption) VALUES ('alice', 'site-b', 2)`)
	assert.Error(t, err)

	require.NoError(t, m.Down(ctx))
	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)

	require.NoError(t, m.DownAll(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestMigrator_CanceledContext(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping sqlite migration in short mode")
	}
	m, _ := newSQLiteMigrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Up(ctx), context.Canceled)
	version, _, err := m.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestSchemaConsole_ReportsUsageSchema(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping sqlite migration in short mode")
	}
	m, _ := newSQLiteMigrator(t)
	var out bytes.Buffer
	console := NewSchemaConsole(m, &out)
	ctx := context.Background()

	require.NoError(t, console.PrintVersion(ctx))
	assert.Contains(t, out.String(), "usage schema is empty")

	out.Reset()
	require.NoError(t, console.Apply(ctx, "upgrade", m.Up))
	assert.Contains(t, out.String(), "usage schema: upgrade")
	assert.Contains(t, out.String(), "usage schema at 000002_index_usage_member")

	out.Reset()
	require.NoError(t, console.Apply(ctx, "rollback", m.Down))
	assert.Contains(t, out.String(), "usage schema at 000001_create_usage_records")

	out.Reset()
	require.NoError(t, console.PrintStatus(ctx))
	assert.Contains(t, out.String(), "create_usage_records")
	assert.Contains(t, out.String(), "usage_records: 1 of 2 migrations applied")

	err := console.Apply(ctx, "move", func(ctx context.Context) error { return m.Goto(ctx, 7) })
	assert.ErrorContains(t, err, "usage schema move")
}
