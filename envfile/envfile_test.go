// Copyright (c) 2023 BVK Chaitanya

package envfile

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `# lelang session
LOT=LOT-42
export PASSKEY="123 456"
MAX_BUDGET=2000000 # rupiah
`

func chdir(t *testing.T, dir string) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })
}

func TestUpdateEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".lelang.env"), []byte(sample), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	t.Setenv("LELANG_LOT", "LOT-7")
	t.Setenv("LELANG_PASSKEY", "")
	t.Setenv("LELANG_MAX_BUDGET", "")

	if err := UpdateEnv(".lelang.env", SearchCurrentDir(false), VariableNamePrefix("LELANG_")); err != nil {
		t.Fatal(err)
	}
	if v := os.Getenv("LELANG_LOT"); v != "LOT-7" {
		t.Fatalf("want existing value LOT-7, got %q", v)
	}
	if v := os.Getenv("LELANG_PASSKEY"); v != "123 456" {
		t.Fatalf("want quoted value, got %q", v)
	}
	if v := os.Getenv("LELANG_MAX_BUDGET"); v != "2000000" {
		t.Fatalf("want comment stripped value, got %q", v)
	}

	if err := UpdateEnv(".lelang.env", SearchCurrentDir(false), VariableNamePrefix("LELANG_"), OverwriteIfExists(true)); err != nil {
		t.Fatal(err)
	}
	if v := os.Getenv("LELANG_LOT"); v != "LOT-42" {
		t.Fatalf("want overwritten value LOT-42, got %q", v)
	}
}

func TestUpdateEnvParentDirs(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".lelang.env"), []byte("TESTING_ENVFILE_KEY=parent\n"), 0600); err != nil {
		t.Fatal(err)
	}
	child := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(child, 0700); err != nil {
		t.Fatal(err)
	}
	chdir(t, child)
	t.Setenv("TESTING_ENVFILE_KEY", "")

	if err := UpdateEnv(".lelang.env", SearchCurrentDir(true)); err != nil {
		t.Fatal(err)
	}
	if v := os.Getenv("TESTING_ENVFILE_KEY"); v != "parent" {
		t.Fatalf("want value from the ancestor directory, got %q", v)
	}
}

func TestInvalidOptions(t *testing.T) {
	if err := UpdateEnv("a/b.env"); err == nil {
		t.Fatalf("want error for a path separator")
	}
	if err := UpdateEnv(".env", VariableNamePrefix("1BAD")); err == nil {
		t.Fatalf("want error for an invalid prefix")
	}
}
