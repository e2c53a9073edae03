package kit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/verdantlab/verdant-core/internal/infrastructure/database"
	_ "github.com/verdantlab/verdant-core/migrations"
)

// testRepo returns a repository backed by a migrated temp-file SQLite
// database. The database is removed with the test's temp dir.
func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

// seedKit persists a minimal valid kit with the given serial.
func seedKit(t *testing.T, repo *SQLiteRepository, serial string) *Kit {
	t.Helper()

	k := &Kit{
		ID:         GenerateID(),
		Serial:     serial,
		Name:       "Kit " + serial,
		SecretHash: "argon2id-hash",
	}
	if err := repo.Create(context.Background(), k); err != nil {
		t.Fatalf("Create(%q) error = %v", serial, err)
	}
	return k
}

// seedUserRow inserts a bare users row so membership foreign keys hold.
// The auth package owns the users table; kit tests only need the id.
func seedUserRow(t *testing.T, repo *SQLiteRepository, id string) {
	t.Helper()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := repo.db.ExecContext(context.Background(), `
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, "user-"+id, "argon2id-hash", now, now)
	if err != nil {
		t.Fatalf("insert user row: %v", err)
	}
}

// seedDefinition inserts a peripheral definition and returns its id.
func seedDefinition(t *testing.T, repo *SQLiteRepository, name string) string {
	t.Helper()

	id := GenerateID()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := repo.db.ExecContext(context.Background(), `
		INSERT INTO peripheral_definitions (id, name, brand, model, class_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, "Verdant", "VT-1", "Sensor", now)
	if err != nil {
		t.Fatalf("insert definition row: %v", err)
	}
	return id
}

// seedQuantityType inserts a quantity type, links it to a definition,
// and returns the quantity type's id.
func seedQuantityType(t *testing.T, repo *SQLiteRepository, definitionID, quantity, unit string) string {
	t.Helper()

	id := GenerateID()
	ctx := context.Background()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO quantity_types (id, physical_quantity, physical_unit, unit_symbol)
		VALUES (?, ?, ?, ?)`,
		id, quantity, unit, unit)
	if err != nil {
		t.Fatalf("insert quantity type row: %v", err)
	}
	_, err = repo.db.ExecContext(ctx, `
		INSERT INTO peripheral_definition_quantity_types (definition_id, quantity_type_id)
		VALUES (?, ?)`,
		definitionID, id)
	if err != nil {
		t.Fatalf("link quantity type row: %v", err)
	}
	return id
}
