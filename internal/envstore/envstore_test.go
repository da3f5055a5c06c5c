package envstore

import "testing"

func TestSetAndGetMasksSensitiveKeys(t *testing.T) {
	s := New()
	if _, err := s.Set("ANTHROPIC_TOKEN", "sk-real-value", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok := s.Get("ANTHROPIC_TOKEN")
	if !ok {
		t.Fatal("expected var to exist")
	}
	if v.Value != maskedValue {
		t.Fatalf("expected masked value, got %q", v.Value)
	}

	rec := s.AsRecord()
	if rec["ANTHROPIC_TOKEN"] != "sk-real-value" {
		t.Fatalf("AsRecord must return unmasked value, got %q", rec["ANTHROPIC_TOKEN"])
	}
}

func TestMaskingEmptyValueStaysEmpty(t *testing.T) {
	s := New()
	s.Set("MY_SECRET", "", "")

	v, _ := s.Get("MY_SECRET")
	if v.Value != "" {
		t.Fatalf("expected empty value to stay empty, got %q", v.Value)
	}
}

func TestNonSensitiveKeyNotMasked(t *testing.T) {
	s := New()
	s.Set("EDITOR", "vim", "")

	v, _ := s.Get("EDITOR")
	if v.Value != "vim" {
		t.Fatalf("expected unmasked value, got %q", v.Value)
	}
}

func TestSetEmptyKeyFails(t *testing.T) {
	s := New()
	if _, err := s.Set("", "x", ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestSetPreservesCreatedAt(t *testing.T) {
	s := New()
	first, _ := s.Set("FOO", "a", "")
	second, _ := s.Set("FOO", "b", "")

	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("expected CreatedAt to be preserved across updates")
	}
	if second.Value != "b" {
		t.Fatalf("expected updated value, got %q", second.Value)
	}
}

func TestListSortedByKey(t *testing.T) {
	s := New()
	s.Set("ZOO", "1", "")
	s.Set("ALPHA", "2", "")

	list := s.List()
	if len(list) != 2 || list[0].Key != "ALPHA" || list[1].Key != "ZOO" {
		t.Fatalf("expected sorted list, got %+v", list)
	}
}

func TestDelete(t *testing.T) {
	s := New()
	s.Set("X", "1", "")
	if !s.Delete("X") {
		t.Fatal("expected delete to report true for existing key")
	}
	if s.Delete("X") {
		t.Fatal("expected delete to report false for already-deleted key")
	}
}

func TestBulkSet(t *testing.T) {
	s := New()
	vars, err := s.BulkSet(map[string]string{"A": "1", "B": "2"})
	if err != nil {
		t.Fatalf("BulkSet: %v", err)
	}
	if len(vars) != 2 {
		t.Fatalf("expected 2 vars, got %d", len(vars))
	}
}
