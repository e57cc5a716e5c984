package deployer

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// writeSecretFile renders a systemd EnvironmentFile at path containing entries,
// writing it atomically and restricting it to mode 0400 before anyone can read it.
func writeSecretFile(path string, entries map[string]string) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, entries[k])
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o400); err != nil {
		return fmt.Errorf("write secret file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename secret file: %w", err)
	}
	return nil
}

// removeFile deletes path, tolerating one that no longer exists.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolveSecrets looks up the value of each declared secret name from the
// operator's environment, prefixed by the project name to avoid collisions
// between projects that declare a same-named secret.
func resolveSecrets(project string, names []string) map[string]string {
	out := make(map[string]string, len(names))
	prefix := strings.ToUpper(strings.ReplaceAll(project, "-", "_")) + "_"
	for _, name := range names {
		key := prefix + strings.ToUpper(name)
		out[name] = os.Getenv(key)
	}
	return out
}
