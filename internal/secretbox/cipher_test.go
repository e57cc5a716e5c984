package secretbox

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	sealed, err := Seal("k1", "super-secret-webhook-key")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "super-secret-webhook-key" {
		t.Fatal("Seal returned plaintext unchanged")
	}
	opened, err := Open("k1", sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != "super-secret-webhook-key" {
		t.Errorf("Open() = %q, want original plaintext", opened)
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	sealed, err := Seal("k1", "secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open("k2", sealed); err == nil {
		t.Fatal("expected error opening with wrong key, got nil")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	if _, err := Open("k1", "not valid base64!!"); err == nil {
		t.Fatal("expected error for invalid input, got nil")
	}
}
