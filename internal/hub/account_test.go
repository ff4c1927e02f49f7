package hub

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func balance(asset, total, available string) schema.AssetBalance {
	return schema.AssetBalance{
		Asset:     asset,
		Total:     decimal.RequireFromString(total),
		Available: decimal.RequireFromString(available),
	}
}

func TestApplyUpdateEmitsOnlyChanges(t *testing.T) {
	rec := &eventRecorder{}
	acct := NewAccount(rec.record)

	update := schema.BalanceUpdate{
		Venue:    "sim",
		Balances: []schema.AssetBalance{balance("USDT", "100", "100")},
	}
	acct.ApplyUpdate(update)
	acct.ApplyUpdate(update)

	require.Equal(t, 1, rec.count(func(ev schema.Event) bool {
		_, ok := ev.(schema.BalanceChanged)
		return ok
	}))

	b, ok := acct.Balance("sim", "USDT")
	require.True(t, ok)
	require.True(t, b.Total.Equal(decimal.RequireFromString("100")))
}

func TestLockReducesAvailable(t *testing.T) {
	acct := NewAccount(nil)
	acct.ApplyUpdate(schema.BalanceUpdate{
		Venue:    "sim",
		Balances: []schema.AssetBalance{balance("USDT", "100", "100")},
	})

	acct.Lock("sim", "cid-1", "USDT", decimal.RequireFromString("30"))
	b, _ := acct.Balance("sim", "USDT")
	require.True(t, b.Available.Equal(decimal.RequireFromString("70")), "available = %s", b.Available)
	require.True(t, b.Total.Equal(decimal.RequireFromString("100")))

	// Replacing shrinks the reservation as fills arrive.
	acct.Lock("sim", "cid-1", "USDT", decimal.RequireFromString("10"))
	b, _ = acct.Balance("sim", "USDT")
	require.True(t, b.Available.Equal(decimal.RequireFromString("90")), "available = %s", b.Available)

	acct.Release("sim", "cid-1")
	b, _ = acct.Balance("sim", "USDT")
	require.True(t, b.Available.Equal(decimal.RequireFromString("100")), "available = %s", b.Available)
}

func TestLockBeforeBalanceKnown(t *testing.T) {
	acct := NewAccount(nil)
	acct.Lock("sim", "cid-1", "USDT", decimal.RequireFromString("30"))

	acct.ApplyUpdate(schema.BalanceUpdate{
		Venue:    "sim",
		Balances: []schema.AssetBalance{balance("USDT", "100", "100")},
	})

	b, ok := acct.Balance("sim", "USDT")
	require.True(t, ok)
	require.True(t, b.Available.Equal(decimal.RequireFromString("70")), "available = %s", b.Available)
}

func TestVenueViewWinsWhenTighter(t *testing.T) {
	acct := NewAccount(nil)
	acct.ApplyUpdate(schema.BalanceUpdate{
		Venue:    "sim",
		Balances: []schema.AssetBalance{balance("USDT", "100", "50")},
	})
	acct.Lock("sim", "cid-1", "USDT", decimal.RequireFromString("20"))

	b, _ := acct.Balance("sim", "USDT")
	require.True(t, b.Available.Equal(decimal.RequireFromString("50")), "available = %s", b.Available)
}

func TestLocksNeverDriveAvailableNegative(t *testing.T) {
	acct := NewAccount(nil)
	acct.ApplyUpdate(schema.BalanceUpdate{
		Venue:    "sim",
		Balances: []schema.AssetBalance{balance("BTC", "1", "1")},
	})
	acct.Lock("sim", "cid-1", "BTC", decimal.RequireFromString("5"))

	b, _ := acct.Balance("sim", "BTC")
	require.True(t, b.Available.IsZero(), "available = %s", b.Available)
}

func TestReconcileAcceptsVenueTotals(t *testing.T) {
	acct := NewAccount(nil)
	acct.ApplyUpdate(schema.BalanceUpdate{
		Venue:    "sim",
		Balances: []schema.AssetBalance{balance("USDT", "100", "100")},
	})

	acct.Reconcile(schema.BalanceUpdate{
		Venue:    "sim",
		Balances: []schema.AssetBalance{balance("USDT", "90", "90")},
	})

	b, _ := acct.Balance("sim", "USDT")
	require.True(t, b.Total.Equal(decimal.RequireFromString("90")), "total = %s", b.Total)
}

func TestReconcileZeroesUnreportedAssets(t *testing.T) {
	rec := &eventRecorder{}
	acct := NewAccount(rec.record)
	acct.Reconcile(schema.BalanceUpdate{
		Venue: "sim",
		Balances: []schema.AssetBalance{
			balance("BTC", "2", "2"),
			balance("USDT", "100", "100"),
		},
	})

	// The venue spent the BTC entirely while we were disconnected, so
	// the query result no longer mentions it.
	acct.Reconcile(schema.BalanceUpdate{
		Venue:    "sim",
		Balances: []schema.AssetBalance{balance("USDT", "100", "100")},
	})

	b, ok := acct.Balance("sim", "BTC")
	require.True(t, ok)
	require.True(t, b.Total.IsZero(), "total = %s", b.Total)
	require.True(t, b.Available.IsZero(), "available = %s", b.Available)
	require.Equal(t, 1, rec.count(func(ev schema.Event) bool {
		bc, ok := ev.(schema.BalanceChanged)
		return ok && bc.Asset == "BTC" && bc.Total.IsZero()
	}))
}

func TestBalancesSortedByAsset(t *testing.T) {
	acct := NewAccount(nil)
	acct.ApplyUpdate(schema.BalanceUpdate{
		Venue: "sim",
		Balances: []schema.AssetBalance{
			balance("USDT", "100", "100"),
			balance("BTC", "1", "1"),
			balance("ETH", "2", "2"),
		},
	})

	got := acct.Balances("sim")
	require.Len(t, got, 3)
	require.Equal(t, "BTC", got[0].Asset)
	require.Equal(t, "ETH", got[1].Asset)
	require.Equal(t, "USDT", got[2].Asset)

	require.Empty(t, acct.Balances("other"))
}
