package testsupport

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteEnforcesForeignKeys(t *testing.T) {
	db := NewSQLiteDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE parent (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE child (parent_id TEXT NOT NULL REFERENCES parent(id) ON DELETE CASCADE)`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO child (parent_id) VALUES ('missing')`)
	assert.Error(t, err, "foreign key violation should be rejected")

	_, err = db.ExecContext(ctx, `INSERT INTO parent (id) VALUES ('p1')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO child (parent_id) VALUES ('p1')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM parent WHERE id = 'p1'`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM child`))
	assert.Zero(t, count, "delete should cascade")
}

func TestPostgresTransactionIsRolledBack(t *testing.T) {
	helper := NewPostgresTestHelper(t, PostgresConfigFromEnv(t))
	tx := helper.Tx()

	// Create table and insert inside the transaction
	if _, err := tx.Exec("CREATE TABLE IF NOT EXISTS integration_tx_check(id SERIAL PRIMARY KEY, value TEXT)"); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	if _, err := tx.Exec("INSERT INTO integration_tx_check(value) VALUES('hello world')"); err != nil {
		t.Fatalf("failed to insert row: %v", err)
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM integration_tx_check").Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}

	if count != 1 {
		t.Fatalf("unexpected row count inside transaction: %d", count)
	}

	helper.Rollback()

	// Verify the table does not exist after rollback
	var exists sql.NullString
	err := helper.DB().QueryRowContext(context.Background(), "SELECT to_regclass('public.integration_tx_check')").Scan(&exists)
	if err != nil {
		t.Fatalf("failed to query table existence: %v", err)
	}

	if exists.Valid {
		t.Fatalf("expected table to be rolled back, found: %s", exists.String)
	}
}
