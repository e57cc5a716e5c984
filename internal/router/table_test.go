package router

import "testing"

func TestTableLookupMissReturnsFalse(t *testing.T) {
	tbl := NewTable()
	if _, ok := tbl.Lookup("missing.example.com"); ok {
		t.Fatal("expected lookup miss on empty table")
	}
}

func TestTableReplaceAndLookup(t *testing.T) {
	tbl := NewTable()
	tbl.Replace(map[string]Route{
		"app.example.com": {Kind: RouteService, Port: 18001, Healthy: true},
	})
	route, ok := tbl.Lookup("app.example.com")
	if !ok {
		t.Fatal("expected lookup hit after Replace")
	}
	if route.Port != 18001 {
		t.Errorf("Port = %d, want 18001", route.Port)
	}
}

func TestTableSetHealthPreservesTarget(t *testing.T) {
	tbl := NewTable()
	tbl.Replace(map[string]Route{
		"app.example.com": {Kind: RouteService, Port: 18001, Healthy: true},
	})
	tbl.SetHealth("app.example.com", false)
	route, _ := tbl.Lookup("app.example.com")
	if route.Healthy {
		t.Fatal("expected Healthy=false after SetHealth")
	}
	if route.Port != 18001 {
		t.Errorf("SetHealth mutated Port, got %d, want 18001", route.Port)
	}
}

func TestTableSetHealthOnMissingHostIsNoop(t *testing.T) {
	tbl := NewTable()
	tbl.SetHealth("nobody.example.com", true) // must not panic
}

func TestTableDelete(t *testing.T) {
	tbl := NewTable()
	tbl.Replace(map[string]Route{"a.example.com": {Kind: RouteStatic}})
	tbl.Delete("a.example.com")
	if _, ok := tbl.Lookup("a.example.com"); ok {
		t.Fatal("expected route to be gone after Delete")
	}
}

func TestTableSnapshotIsACopy(t *testing.T) {
	tbl := NewTable()
	tbl.Replace(map[string]Route{"a.example.com": {Kind: RouteStatic}})
	snap := tbl.Snapshot()
	snap["a.example.com"] = Route{Kind: RouteService}
	route, _ := tbl.Lookup("a.example.com")
	if route.Kind != RouteStatic {
		t.Fatal("mutating snapshot must not affect the live table")
	}
}
