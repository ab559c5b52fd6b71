package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func setupTestStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "sqlite-test-*")
	if err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(dir, "test.db")
	store, err := OpenSQLiteStore(dbPath)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(dir)
	}

	return store, cleanup
}

var testSchema = TableSchema{
	Name:       "Things",
	PrimaryKey: Column{Name: "id", Type: "TEXT"},
	Columns: []Column{
		{Name: "label", Type: "TEXT NOT NULL"},
		{Name: "weight", Type: "INTEGER"},
	},
}

func TestInsertAndQueryLimited(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if !store.CreateTable(testSchema) {
		t.Fatal("CreateTable failed")
	}
	// Idempotent
	if !store.CreateTable(testSchema) {
		t.Fatal("second CreateTable failed")
	}

	rows := []Row{
		{"id": "c", "label": "third-id-first-row", "weight": int64(1)},
		{"id": "a", "label": "second", "weight": 2},
		{"id": "b", "label": "third"},
	}
	if !store.InsertBatch("Things", rows) {
		t.Fatal("InsertBatch failed")
	}

	got := store.QueryLimited("Things", 2)
	if len(got) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(got))
	}
	// Insertion order, not key order
	if got[0]["id"] != "c" || got[1]["id"] != "a" {
		t.Errorf("Unexpected order: %v, %v", got[0]["id"], got[1]["id"])
	}
	if got[1]["weight"] != int64(2) {
		t.Errorf("Expected weight 2 as int64, got %#v", got[1]["weight"])
	}

	all := store.QueryLimited("Things", 0)
	if len(all) != 3 {
		t.Fatalf("Expected 3 rows with no limit, got %d", len(all))
	}
	if _, ok := all[2]["weight"]; ok {
		t.Error("NULL column should be absent from the row")
	}

	if n := store.Count("Things"); n != 3 {
		t.Errorf("Expected count 3, got %d", n)
	}
}

func TestInsertBatchEmpty(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	// No table exists; an empty batch must not reach storage.
	if !store.InsertBatch("Missing", nil) {
		t.Error("empty InsertBatch should succeed")
	}
}

func TestInsertBatchRollsBackOnFailure(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.CreateTable(testSchema)
	if !store.InsertBatch("Things", []Row{{"id": "a", "label": "x"}}) {
		t.Fatal("InsertBatch failed")
	}

	// Second row collides with the existing primary key.
	ok := store.InsertBatch("Things", []Row{
		{"id": "b", "label": "y"},
		{"id": "a", "label": "dup"},
	})
	if ok {
		t.Fatal("expected InsertBatch to fail on duplicate key")
	}
	if n := store.Count("Things"); n != 1 {
		t.Errorf("Expected rollback to leave 1 row, got %d", n)
	}

	// Unsupported value types fail the whole batch too.
	if store.InsertBatch("Things", []Row{{"id": "c", "label": struct{}{}}}) {
		t.Error("expected unsupported value to fail")
	}
}

func TestDeleteByKeyIn(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.CreateTable(testSchema)
	store.InsertBatch("Things", []Row{
		{"id": "a", "label": "1"},
		{"id": "b", "label": "2"},
		{"id": "c", "label": "3"},
	})

	if n := store.DeleteByKeyIn("Things", "id", []string{"a", "c", "zzz"}); n != 2 {
		t.Errorf("Expected 2 deleted, got %d", n)
	}
	if n := store.DeleteByKeyIn("Things", "id", nil); n != 0 {
		t.Errorf("Expected 0 for empty values, got %d", n)
	}
	if n := store.DeleteByKeyIn("Missing", "id", []string{"a"}); n != -1 {
		t.Errorf("Expected -1 for missing table, got %d", n)
	}
	if n := store.Count("Things"); n != 1 {
		t.Errorf("Expected 1 remaining, got %d", n)
	}
}

func TestDeleteByKeyInLargeList(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.CreateTable(testSchema)
	var rows []Row
	var ids []string
	for i := 0; i < 1200; i++ {
		id := NewID()
		ids = append(ids, id)
		rows = append(rows, Row{"id": id, "label": "x"})
	}
	if !store.InsertBatch("Things", rows) {
		t.Fatal("InsertBatch failed")
	}

	if n := store.DeleteByKeyIn("Things", "id", ids); n != 1200 {
		t.Errorf("Expected 1200 deleted, got %d", n)
	}
}

func TestMissingTableSentinels(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if rows := store.QueryLimited("Missing", 10); rows != nil {
		t.Errorf("Expected nil rows, got %v", rows)
	}
	if n := store.Count("Missing"); n != -1 {
		t.Errorf("Expected -1 count, got %d", n)
	}
	if store.Clear("Missing") {
		t.Error("Clear on missing table should fail")
	}
	if !store.DropTable("Missing") {
		t.Error("DropTable is IF EXISTS and should succeed")
	}
}

func TestInvalidIdentifiers(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	bad := testSchema
	bad.Name = "Things; DROP TABLE x"
	if store.CreateTable(bad) {
		t.Error("expected invalid table name to be rejected")
	}
	if store.InsertBatch("Things", []Row{{"id; --": "a"}}) {
		t.Error("expected invalid column name to be rejected")
	}
	if n := store.DeleteByKeyIn("Things", "id)", []string{"a"}); n != -1 {
		t.Errorf("expected -1 for invalid key, got %d", n)
	}
}

func TestClearAndDrop(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.CreateTable(testSchema)
	store.InsertBatch("Things", []Row{{"id": "a", "label": "1"}})

	if !store.Clear("Things") {
		t.Fatal("Clear failed")
	}
	if n := store.Count("Things"); n != 0 {
		t.Errorf("Expected 0 after clear, got %d", n)
	}
	if !store.DropTable("Things") {
		t.Fatal("DropTable failed")
	}
	if n := store.Count("Things"); n != -1 {
		t.Errorf("Expected -1 after drop, got %d", n)
	}
}

func TestConcurrentInserts(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.CreateTable(testSchema)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if !store.InsertBatch("Things", []Row{{"id": NewID(), "label": "c"}}) {
					t.Error("concurrent InsertBatch failed")
				}
			}
		}()
	}
	wg.Wait()

	if n := store.Count("Things"); n != 80 {
		t.Errorf("Expected 80 rows, got %d", n)
	}
}

func TestNewIDMonotonic(t *testing.T) {
	prev := NewID()
	for i := 0; i < 1000; i++ {
		id := NewID()
		if len(id) != 26 {
			t.Fatalf("Expected 26-char id, got %q", id)
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, id)
		}
		prev = id
	}
}
