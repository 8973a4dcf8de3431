package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve_Env(t *testing.T) {
	t.Setenv("LOGSENTRY_TEST_PEPPER", "super-secret")
	val, err := Resolve("env:LOGSENTRY_TEST_PEPPER")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if val != "super-secret" {
		t.Errorf("got %q, want %q", val, "super-secret")
	}
}

func TestResolve_EnvMissing(t *testing.T) {
	os.Unsetenv("LOGSENTRY_TEST_PEPPER_MISSING")
	if _, err := Resolve("env:LOGSENTRY_TEST_PEPPER_MISSING"); err == nil {
		t.Fatal("expected error for unset environment variable")
	}
}

func TestResolve_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pepper")
	if err := os.WriteFile(path, []byte("from-file-pepper\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	val, err := Resolve("file://" + path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if val != "from-file-pepper" {
		t.Errorf("got %q, want %q", val, "from-file-pepper")
	}
}

func TestResolve_InvalidFormat(t *testing.T) {
	if _, err := Resolve("nonsense"); err == nil {
		t.Fatal("expected error for unrecognized reference format")
	}
}
