package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// cloneAndCheckout shallow-clones repoURL into dest and checks out commitSHA.
// A plain --depth 1 clone only shallows the default branch tip, so pinning an
// arbitrary commit (a non-default branch, or a PR head) needs an explicit
// fetch of that one commit before checkout.
func cloneAndCheckout(ctx context.Context, repoURL, dest, commitSHA string) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	if commitSHA == "" {
		return fmt.Errorf("commit sha cannot be empty")
	}

	if err := runGit(ctx, dest, "init"); err != nil {
		return err
	}
	if err := runGit(ctx, dest, "remote", "add", "origin", repoURL); err != nil {
		return err
	}
	if err := runGit(ctx, dest, "fetch", "--depth", "1", "origin", commitSHA); err != nil {
		return fmt.Errorf("fetch commit %s: %w", commitSHA, err)
	}
	if err := runGit(ctx, dest, "checkout", "FETCH_HEAD"); err != nil {
		return err
	}
	return nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %v failed: %w: %s", args, err, string(output))
	}
	return nil
}
