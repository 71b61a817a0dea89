package db

import (
	"context"
	"strings"
	"testing"
)

func TestMigrationNamesSorted(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i, name := range names {
		if !strings.HasSuffix(name, ".sql") {
			t.Fatalf("unexpected migration file %q", name)
		}
		if i > 0 && names[i-1] >= name {
			t.Fatalf("migrations out of order: %q before %q", names[i-1], name)
		}
	}
}

func TestCoreMigrationCreatesJobSequenceFromZero(t *testing.T) {
	body, err := migrationFiles.ReadFile("migrations/0001_escrow.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if !strings.Contains(string(body), "MINVALUE 0 START WITH 0") {
		t.Fatal("job ids must start at zero")
	}
}

func TestNewPoolRejectsEmptyDSN(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if _, err := NewPool(ctx, "", 0); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}
