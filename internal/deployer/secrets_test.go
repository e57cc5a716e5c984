package deployer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteSecretFileSortsKeysAndSetsMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.env")

	err := writeSecretFile(path, map[string]string{
		"DATABASE_URL": "postgres://x",
		"API_KEY":      "abc123",
	})
	if err != nil {
		t.Fatalf("writeSecretFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "API_KEY=abc123\nDATABASE_URL=postgres://x\n"
	if string(data) != want {
		t.Errorf("contents = %q, want %q", string(data), want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o400 {
		t.Errorf("mode = %v, want 0400", info.Mode().Perm())
	}
}

func TestRemoveFileToleratesMissing(t *testing.T) {
	if err := removeFile(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("removeFile on missing path should be a no-op, got: %v", err)
	}
}

func TestResolveSecretsUsesProjectPrefixedEnv(t *testing.T) {
	t.Setenv("MYAPP_API_KEY", "sekret")
	got := resolveSecrets("myapp", []string{"api_key", "unset_one"})
	if got["api_key"] != "sekret" {
		t.Errorf("api_key = %q, want sekret", got["api_key"])
	}
	if got["unset_one"] != "" {
		t.Errorf("unset_one = %q, want empty", got["unset_one"])
	}
}

func TestResolveSecretsNormalizesProjectNameDashes(t *testing.T) {
	t.Setenv("MY_APP_TOKEN", "v")
	got := resolveSecrets("my-app", []string{"token"})
	if got["token"] != "v" {
		t.Errorf("token = %q, want v", got["token"])
	}
	if strings.Contains(got["token"], "-") {
		t.Errorf("unexpected dash leaked into resolved value")
	}
}
