package classpath

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewFromStringSplitsTrimsAndPrependsDot(t *testing.T) {
	cp := NewFromString("~/a; /b;dir ;")
	got := cp.Paths()
	want := []string{".", "~/a", "/b", "dir"}
	if len(got) != len(want) {
		t.Fatalf("Paths() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Paths()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLocateEmptyClasspathNotFound(t *testing.T) {
	cp := NewFromString("")
	_, err := cp.Locate("FooDoesNotExist")
	if err == nil {
		t.Fatal("expected error for missing class")
	}
	if want := "failed to locate class file for FooDoesNotExist"; err.Error() != want {
		t.Fatalf("err = %q, want %q", err.Error(), want)
	}
}

func TestLocateFindsClassFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Empty.class"), []byte{0xCA, 0xFE, 0xBA, 0xBE}, 0o644); err != nil {
		t.Fatal(err)
	}
	cp := NewFromString(dir)
	bytes, err := cp.Locate("Empty")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(bytes) != 4 {
		t.Fatalf("len(bytes) = %d, want 4", len(bytes))
	}
}

func TestLocateNestedPackageName(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "de", "fruits"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "de", "fruits", "Apple.class"), []byte{1, 2}, 0o644); err != nil {
		t.Fatal(err)
	}
	cp := NewFromString(dir)
	if _, err := cp.Locate("de.fruits.Apple"); err != nil {
		t.Fatalf("Locate: %v", err)
	}
}
