package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testDSNEnv = "OMS_TEST_POSTGRES_DSN"

// requireStore открывает базу из OMS_TEST_POSTGRES_DSN; без неё тест пропускается.
func requireStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store, err := Open(ctx, Config{DSN: dsn})
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// requireMigratedStore дополнительно накатывает схему и очищает таблицы заказов.
func requireMigratedStore(t *testing.T) *Store {
	t.Helper()
	store := requireStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, store.MigrateUp(ctx, 0))
	_, err := store.DB().ExecContext(ctx, `TRUNCATE TABLE order_items, orders CASCADE`)
	require.NoError(t, err)
	return store
}
