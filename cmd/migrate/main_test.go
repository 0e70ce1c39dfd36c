package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVersionFromFile(t *testing.T) {
	tests := []struct {
		name    string
		want    int64
		wantErr bool
	}{
		{"001_api_keys.up.sql", 1, false},
		{"012_more.up.sql", 12, false},
		{"noversion.sql", 0, true},
		{"abc_x.up.sql", 0, true},
	}
	for _, tc := range tests {
		got, err := versionFromFile(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("versionFromFile(%q) err = %v, wantErr %v", tc.name, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("versionFromFile(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestUpMigrations_OrderAndFilter(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"010_late.up.sql", "002_b.up.sql", "002_b.down.sql", "001_a.up.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	got, err := upMigrations(dir)
	if err != nil {
		t.Fatalf("upMigrations: %v", err)
	}
	want := []string{"001_a.up.sql", "002_b.up.sql", "010_late.up.sql"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUpMigrations_MissingDir(t *testing.T) {
	if _, err := upMigrations(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing dir")
	}
}
