package router

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newStaticRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>home</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	secretDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(secretDir, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestServeStaticServesExistingFile(t *testing.T) {
	root := newStaticRoot(t)
	req := httptest.NewRequest("GET", "/assets/app.js", nil)
	w := httptest.NewRecorder()

	serveStatic(w, req, Route{Kind: RouteStatic, StaticPath: root})

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "console.log(1)" {
		t.Errorf("body = %q, want file contents", w.Body.String())
	}
}

func TestServeStaticSPAFallback(t *testing.T) {
	root := newStaticRoot(t)
	req := httptest.NewRequest("GET", "/dashboard/settings", nil)
	w := httptest.NewRecorder()

	serveStatic(w, req, Route{Kind: RouteStatic, StaticPath: root, SPA: true})

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200 (index.html fallback)", w.Code)
	}
	if w.Body.String() != "<html>home</html>" {
		t.Errorf("body = %q, want index.html contents", w.Body.String())
	}
}

func TestServeStaticNonSPA404sOnMissingFile(t *testing.T) {
	root := newStaticRoot(t)
	req := httptest.NewRequest("GET", "/does-not-exist", nil)
	w := httptest.NewRecorder()

	serveStatic(w, req, Route{Kind: RouteStatic, StaticPath: root})

	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestServeStaticBlocksTraversal(t *testing.T) {
	root := newStaticRoot(t)
	req := httptest.NewRequest("GET", "/../../../../etc/passwd", nil)
	w := httptest.NewRecorder()

	serveStatic(w, req, Route{Kind: RouteStatic, StaticPath: root})

	if w.Code != 403 {
		t.Fatalf("status = %d, want 403 for traversal attempt", w.Code)
	}
}
