package deployer

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// flushValkeySlot clears every key in the given database index before it is
// returned to the pool, so the next branch to claim the slot never observes
// a previous preview deployment's leftover keys.
func flushValkeySlot(ctx context.Context, addr string, slot int) error {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: slot})
	defer client.Close()

	if err := client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("flush valkey db %d: %w", slot, err)
	}
	return nil
}

// valkeyURL renders the connection string a service's VALKEY_URL secret is set to.
func valkeyURL(addr string, slot int) string {
	return fmt.Sprintf("redis://%s/%d", addr, slot)
}
