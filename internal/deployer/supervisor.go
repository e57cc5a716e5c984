package deployer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// supervisor drives systemd unit lifecycle: rendering unit files, enabling and
// starting them, and stopping and removing them at teardown.
type supervisor struct {
	bin     string
	unitDir string
}

func newSupervisor(bin, unitDir string) *supervisor {
	return &supervisor{bin: bin, unitDir: unitDir}
}

type unitSpec struct {
	Name        string
	ExecStart   string
	EnvFile     string
	User        string
	WorkDir     string
}

// unitFileContents renders a systemd unit that restarts on failure with a 5s backoff.
func unitFileContents(spec unitSpec) string {
	return fmt.Sprintf(`[Unit]
Description=kennel managed service %s

[Service]
Type=simple
ExecStart=%s
EnvironmentFile=%s
User=%s
WorkingDirectory=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`, spec.Name, spec.ExecStart, spec.EnvFile, spec.User, spec.WorkDir)
}

// writeUnit atomically writes a unit file and reloads the supervisor's unit cache.
func (s *supervisor) writeUnit(ctx context.Context, spec unitSpec) error {
	path := filepath.Join(s.unitDir, spec.Name+".service")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(unitFileContents(spec)), 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename unit file: %w", err)
	}
	return s.run(ctx, "daemon-reload")
}

// enableAndStart requests the supervisor enable and start a unit.
func (s *supervisor) enableAndStart(ctx context.Context, name string) error {
	if err := s.run(ctx, "enable", "--now", name+".service"); err != nil {
		return fmt.Errorf("enable and start %s: %w", name, err)
	}
	return nil
}

// stopAndDisable stops and disables a unit. Any supervisor failure, including
// a unit that no longer exists, is returned; teardown logs it as a warning.
func (s *supervisor) stopAndDisable(ctx context.Context, name string) error {
	if err := s.run(ctx, "disable", "--now", name+".service"); err != nil {
		return fmt.Errorf("stop and disable %s: %w", name, err)
	}
	return nil
}

// removeUnit deletes a unit file and reloads the supervisor. A missing file is not an error.
func (s *supervisor) removeUnit(ctx context.Context, name string) error {
	path := filepath.Join(s.unitDir, name+".service")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	return s.run(ctx, "daemon-reload")
}

func (s *supervisor) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, s.bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", s.bin, args, err, string(output))
	}
	return nil
}

// ensureSystemUser idempotently creates a system user for a unit, if it does not already exist.
func ensureSystemUser(ctx context.Context, name string) error {
	if err := exec.CommandContext(ctx, "id", name).Run(); err == nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, "useradd", "--system", "--no-create-home", "--shell", "/usr/sbin/nologin", name)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("useradd %s: %w: %s", name, err, string(output))
	}
	return nil
}

// chownToUser sets ownership of path to the named system user.
func chownToUser(ctx context.Context, path, user string) error {
	cmd := exec.CommandContext(ctx, "chown", user+":"+user, path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("chown %s %s: %w: %s", user, path, err, string(output))
	}
	return nil
}

func portString(port int) string {
	return strconv.Itoa(port)
}
