package store

import (
	"strings"
	"testing"
)

func TestGetMigrationsAreSequentialAndDriverNeutral(t *testing.T) {
	migrations := GetMigrations()
	if len(migrations) == 0 {
		t.Fatal("expected at least one migration")
	}

	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
		// Every table keys on a natural compound key or TEXT id, so the
		// DDL must not reach for a dialect-specific serial column.
		lower := strings.ToLower(m.SQL)
		for _, kw := range []string{"serial", "autoincrement"} {
			if strings.Contains(lower, kw) {
				t.Errorf("migration %d uses dialect-specific %q", m.Version, kw)
			}
		}
	}
}
