package envstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty snapshot, got %v", s.Map())
	}
}

func TestSaveThenLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config", ".env")
	in := FromMap(map[string]string{
		"DANMU_API_VARIANT": "dev",
		"TOKEN":             "abc def",
		"PORT":              "9321",
	})
	if err := Save(p, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !out.Equal(in) {
		t.Fatalf("round trip mismatch: got %v want %v", out.Map(), in.Map())
	}
}

func TestLoadParsesCommentsAndQuotes(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	body := "# comment\nDANMU_API_VARIANT=Dev\nexport OTHER=\"x y\"\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, _ := s.Get("DANMU_API_VARIANT"); v != "Dev" {
		t.Fatalf("variant = %q", v)
	}
	if v, _ := s.Get("OTHER"); v != "x y" {
		t.Fatalf("other = %q", v)
	}
}
