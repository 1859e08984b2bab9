package env

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadKeepsPresetVariables(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	body := "# comment\nexport FLOWERSHOP_TEST_A=from-file\nFLOWERSHOP_TEST_B=\"quoted # not a comment\"\nFLOWERSHOP_TEST_C=plain # trailing\nbroken line\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLOWERSHOP_TEST_A", "preset")
	t.Setenv("FLOWERSHOP_TEST_B", "")
	t.Setenv("FLOWERSHOP_TEST_C", "")
	os.Unsetenv("FLOWERSHOP_TEST_B")
	os.Unsetenv("FLOWERSHOP_TEST_C")

	Load(p, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("FLOWERSHOP_TEST_A"); got != "preset" {
		t.Fatalf("A = %q", got)
	}
	if got := os.Getenv("FLOWERSHOP_TEST_B"); got != "quoted # not a comment" {
		t.Fatalf("B = %q", got)
	}
	if got := os.Getenv("FLOWERSHOP_TEST_C"); got != "plain" {
		t.Fatalf("C = %q", got)
	}
}
