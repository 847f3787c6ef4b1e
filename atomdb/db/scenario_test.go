package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atomdb/atomdb/atomdb"
	"github.com/atomdb/atomdb/atomdb/storage"
)

func scenarioBackends(t *testing.T) map[string]atomdb.SharedStorage {
	t.Helper()
	badgerCfg := storage.DefaultConfig()
	badgerCfg.Backend = storage.BackendBadger
	badgerCfg.Path = t.TempDir()
	badgerStore, err := storage.NewBadgerStorage(badgerCfg)
	require.NoError(t, err)

	stores := map[string]atomdb.SharedStorage{
		"memory": storage.NewMemoryStorage(),
		"badger": badgerStore,
	}
	t.Cleanup(func() {
		for _, store := range stores {
			store.Close()
		}
	})
	return stores
}

// TestOrderLifecycleScenario drives the whole stack the way an application
// would: an orders database whose order book lives behind one mutable
// handle, with status updates flowing through successive transactions.
func TestOrderLifecycleScenario(t *testing.T) {
	for name, store := range scenarioBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			space := NewObjectSpace(store)

			database, err := space.NewDatabase(ctx, "orders")
			require.NoError(t, err)

			// Seed two orders behind a single order-book slot.
			tx, err := database.NewTransaction(ctx)
			require.NoError(t, err)
			book := tx.NewDictionary()
			for _, id := range []string{"ord-1", "ord-2"} {
				order, err := atomdb.NewDBObject(tx, map[string]atomdb.Value{
					"id":     id,
					"status": "pending",
					"items":  int64(3),
				})
				require.NoError(t, err)
				book, err = book.With(ctx, id, order)
				require.NoError(t, err)
			}
			handle, err := tx.NewMutable(ctx, book)
			require.NoError(t, err)
			require.NoError(t, tx.SetRootObject("book", handle))
			require.NoError(t, tx.Commit(ctx))

			// Ship ord-1 in a second transaction.
			tx2, err := database.NewTransaction(ctx)
			require.NoError(t, err)
			value, err := tx2.GetRootObject(ctx, "book")
			require.NoError(t, err)
			handle2 := value.(*atomdb.MutableObject)
			current, err := handle2.Get(ctx)
			require.NoError(t, err)
			book2 := current.(*Dictionary)

			orderValue, err := book2.Get(ctx, "ord-1")
			require.NoError(t, err)
			shipped, err := orderValue.(*atomdb.DBObject).WithAttribute(ctx, "status", "shipped")
			require.NoError(t, err)
			book2, err = book2.With(ctx, "ord-1", shipped)
			require.NoError(t, err)
			require.NoError(t, handle2.Set(ctx, book2))
			require.NoError(t, tx2.Commit(ctx))

			// A third transaction sees one shipped and one pending order.
			tx3, err := database.NewTransaction(ctx)
			require.NoError(t, err)
			defer tx3.Abort()
			value, err = tx3.GetRootObject(ctx, "book")
			require.NoError(t, err)
			current, err = value.(*atomdb.MutableObject).Get(ctx)
			require.NoError(t, err)
			book3 := current.(*Dictionary)

			statuses := make(map[string]string)
			plan, err := book3.AsQueryPlan().Optimize(ctx)
			require.NoError(t, err)
			err = plan.Execute(ctx, func(entry Entry) (bool, error) {
				order := entry.Value.(*atomdb.DBObject)
				status, err := order.Get(ctx, "status")
				if err != nil {
					return false, err
				}
				statuses[entry.Key.(string)] = status.(string)
				return true, nil
			})
			require.NoError(t, err)
			require.Equal(t, map[string]string{"ord-1": "shipped", "ord-2": "pending"}, statuses)

			count, err := book3.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, count)
		})
	}
}
