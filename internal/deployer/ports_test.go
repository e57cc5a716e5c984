package deployer

import (
	"context"
	"errors"
	"testing"

	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/kennelerr"
)

type fakePortStore struct {
	conflictsBeforeSuccess int
	calls                  int
}

func (f *fakePortStore) AllocatePort(ctx context.Context, min, max int, deploymentID string) (int, error) {
	f.calls++
	if f.calls <= f.conflictsBeforeSuccess {
		return 0, kennelerr.ErrConflict
	}
	return min, nil
}
func (f *fakePortStore) ReleasePort(ctx context.Context, port int) error { return nil }
func (f *fakePortStore) ListPorts(ctx context.Context) ([]domain.PortAllocation, error) {
	return nil, nil
}

func TestAllocatePortRetriesOnConflict(t *testing.T) {
	st := &fakePortStore{conflictsBeforeSuccess: 3}
	port, err := allocatePort(context.Background(), st, 18000, 19000, "dep-1")
	if err != nil {
		t.Fatalf("allocatePort: %v", err)
	}
	if port != 18000 {
		t.Errorf("port = %d, want 18000", port)
	}
	if st.calls != 4 {
		t.Errorf("calls = %d, want 4 (3 conflicts + 1 success)", st.calls)
	}
}

func TestAllocatePortGivesUpAfterMaxAttempts(t *testing.T) {
	st := &fakePortStore{conflictsBeforeSuccess: maxAllocationAttempts + 5}
	_, err := allocatePort(context.Background(), st, 18000, 19000, "dep-1")
	if err == nil {
		t.Fatal("expected error after exhausting retries, got nil")
	}
	if st.calls != maxAllocationAttempts {
		t.Errorf("calls = %d, want %d", st.calls, maxAllocationAttempts)
	}
}

func TestAllocatePortPropagatesNonConflictErrors(t *testing.T) {
	st := &failingPortStore{err: errors.New("db is on fire")}
	_, err := allocatePort(context.Background(), st, 18000, 19000, "dep-1")
	if err == nil || err.Error() != "db is on fire" {
		t.Fatalf("expected the underlying error to propagate unwrapped, got %v", err)
	}
}

type failingPortStore struct{ err error }

func (f *failingPortStore) AllocatePort(ctx context.Context, min, max int, deploymentID string) (int, error) {
	return 0, f.err
}
func (f *failingPortStore) ReleasePort(ctx context.Context, port int) error { return nil }
func (f *failingPortStore) ListPorts(ctx context.Context) ([]domain.PortAllocation, error) {
	return nil, nil
}
