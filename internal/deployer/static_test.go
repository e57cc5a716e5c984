package deployer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSwapStaticSymlinkCreatesAndReplaces(t *testing.T) {
	sitesDir := t.TempDir()
	storeA := t.TempDir()
	storeB := t.TempDir()

	link, err := swapStaticSymlink(sitesDir, "proj", "main", "docs", storeA)
	if err != nil {
		t.Fatalf("swapStaticSymlink: %v", err)
	}
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != storeA {
		t.Errorf("link target = %q, want %q", target, storeA)
	}

	if _, err := swapStaticSymlink(sitesDir, "proj", "main", "docs", storeB); err != nil {
		t.Fatalf("swapStaticSymlink (replace): %v", err)
	}
	target, err = os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink after swap: %v", err)
	}
	if target != storeB {
		t.Errorf("link target after swap = %q, want %q", target, storeB)
	}
}

func TestRemoveStaticSiteCleansUpEmptyDirs(t *testing.T) {
	sitesDir := t.TempDir()
	store := t.TempDir()

	if _, err := swapStaticSymlink(sitesDir, "proj", "feature-x", "docs", store); err != nil {
		t.Fatalf("swapStaticSymlink: %v", err)
	}
	if err := removeStaticSite(sitesDir, "proj", "feature-x", "docs"); err != nil {
		t.Fatalf("removeStaticSite: %v", err)
	}

	if _, err := os.Stat(filepath.Join(sitesDir, "proj", "feature-x")); !os.IsNotExist(err) {
		t.Errorf("expected branch directory to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(sitesDir, "proj")); !os.IsNotExist(err) {
		t.Errorf("expected project directory to be removed, stat err = %v", err)
	}
}

func TestRemoveStaticSiteToleratesMissingLink(t *testing.T) {
	sitesDir := t.TempDir()
	if err := removeStaticSite(sitesDir, "proj", "main", "docs"); err != nil {
		t.Fatalf("removeStaticSite on missing link should be a no-op, got: %v", err)
	}
}
