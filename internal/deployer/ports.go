package deployer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/kennelerr"
	"github.com/ScottyLabs/kennel/internal/store"
)

// maxAllocationAttempts bounds retries against a concurrent allocator racing
// for the same least-free slot; ErrConflict means another allocation won the
// insert between our select and our insert, so we simply try again.
const maxAllocationAttempts = 5

func allocatePort(ctx context.Context, st store.PortStore, min, max int, deploymentID string) (int, error) {
	var lastErr error
	for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
		port, err := st.AllocatePort(ctx, min, max, deploymentID)
		if err == nil {
			return port, nil
		}
		if !errors.Is(err, kennelerr.ErrConflict) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("allocate port: exhausted retries: %w", lastErr)
}

func allocatePreviewDatabase(ctx context.Context, st store.PreviewDatabaseStore, project, branch, name string, slots int) (*domain.PreviewDatabase, error) {
	var lastErr error
	for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
		db, err := st.AllocatePreviewDatabase(ctx, project, branch, name, slots)
		if err == nil {
			return db, nil
		}
		if !errors.Is(err, kennelerr.ErrConflict) {
			return nil, err
		}
		if existing, getErr := st.GetPreviewDatabase(ctx, project, branch); getErr == nil {
			return existing, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("allocate preview database: exhausted retries: %w", lastErr)
}
