package authority

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogKnowsCommonAuthorities(t *testing.T) {
	cat := DefaultCatalog()
	for _, key := range []string{"mrn", "national-id", "passport"} {
		if _, ok := cat.Lookup(key); !ok {
			t.Fatalf("expected default catalog to know %q", key)
		}
	}
	if _, ok := cat.Lookup("MRN"); !ok {
		t.Fatal("expected lookup to be case-insensitive")
	}
}

func TestValidate(t *testing.T) {
	cat := DefaultCatalog()

	if err := cat.Validate("mrn", "anything-goes"); err != nil {
		t.Fatalf("expected mrn to accept free-form values: %v", err)
	}
	if err := cat.Validate("unknown-kind", "x"); err == nil {
		t.Fatal("expected unknown alias type to be rejected")
	}
	if err := cat.Validate("passport", "AB123456"); err != nil {
		t.Fatalf("expected valid passport number: %v", err)
	}
	if err := cat.Validate("passport", "no spaces allowed"); err == nil {
		t.Fatal("expected malformed passport number to be rejected")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authorities.yaml")
	content := []byte(`authorities:
  mrn:
    display: Medical Record Number
    system: urn:hospital:mrn
    pattern: "^mrn-[0-9]+$"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := cat.Validate("mrn", "mrn-123"); err != nil {
		t.Fatalf("expected pattern match: %v", err)
	}
	if err := cat.Validate("mrn", "123"); err == nil {
		t.Fatal("expected pattern mismatch to be rejected")
	}
	if err := cat.Validate("passport", "AB123456"); err == nil {
		t.Fatal("expected file catalog to replace defaults")
	}
}

func TestLoadFailureFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()

	malformed := filepath.Join(dir, "malformed.yaml")
	if err := os.WriteFile(malformed, []byte("authorities: [not, a, map"), 0o600); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	cat, err := Load(malformed)
	if err == nil {
		t.Fatal("expected load error for malformed catalog")
	}
	if verr := cat.Validate("mrn", "mrn-123"); verr != nil {
		t.Fatalf("expected defaults after malformed catalog, got %v", verr)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("authorities: {}\n"), 0o600); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	cat, err = Load(empty)
	if err == nil {
		t.Fatal("expected load error for empty catalog")
	}
	if verr := cat.Validate("mrn", "mrn-123"); verr != nil {
		t.Fatalf("expected defaults after empty catalog, got %v", verr)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cat, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, ok := cat.Lookup("mrn"); !ok {
		t.Fatal("expected defaults when no path configured")
	}
}
